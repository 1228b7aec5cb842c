package fetcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestChainlinkUnknownAssetIsNoData(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{Feeds: map[string]string{}}, noopLogger())
	_, found, err := c.FetchPrice(context.Background(), "SOL")
	if err != nil || found {
		t.Fatalf("未配置 feed 的资产应视为无数据: found=%v err=%v", found, err)
	}
}

func TestChainlinkMissingConfig(t *testing.T) {
	feeds := map[string]string{"ETH": "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"}

	c := NewChainlink(ChainlinkOptions{Feeds: feeds}, noopLogger())
	if _, _, err := c.FetchPrice(context.Background(), "ETH"); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost", Feeds: map[string]string{"ETH": "not-an-address"}}, noopLogger())
	if _, _, err := c.FetchPrice(context.Background(), "ETH"); err == nil {
		t.Fatal("非法合约地址应报错")
	}
}

func TestCheckRoundAge(t *testing.T) {
	addr := common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	updated := now.Add(-2 * time.Hour).Unix()

	err := checkRoundAge(addr, updated, time.Hour, now)
	if err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("超过 max_age 的轮次应报错, got %v", err)
	}
	if err := checkRoundAge(addr, updated, 3*time.Hour, now); err != nil {
		t.Fatalf("fresh round rejected: %v", err)
	}
	if err := checkRoundAge(addr, updated, 0, now); err != nil {
		t.Fatalf("max_age=0 disables the check: %v", err)
	}
}
