package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// fakeNode answers the eth_ methods the client uses.
type fakeNode struct {
	head     *types.Header
	blockArg string
	callTo   interface{}
}

func (n *fakeNode) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(42161))
}

func (n *fakeNode) GetBlockByNumber(number string, _ bool) (*types.Header, error) {
	n.blockArg = number
	return n.head, nil
}

func (n *fakeNode) Call(args map[string]interface{}, _ string) (hexutil.Bytes, error) {
	n.callTo = args["to"]
	return hexutil.Bytes{0x01, 0x02}, nil
}

func dialFake(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("eth", node); err != nil {
		t.Fatalf("register: %v", err)
	}
	c := newClient(rpc.DialInProc(server))
	t.Cleanup(func() {
		c.Close()
		server.Stop()
	})
	return c
}

func TestLatestTimestampReadsHeadBlock(t *testing.T) {
	node := &fakeNode{head: &types.Header{
		Number:     big.NewInt(1234),
		Difficulty: new(big.Int),
		Time:       1767225600,
	}}
	c := dialFake(t, node)

	ts, err := c.LatestTimestamp(context.Background())
	if err != nil {
		t.Fatalf("latest timestamp: %v", err)
	}
	if ts != 1767225600 {
		t.Fatalf("timestamp = %d", ts)
	}
	if node.blockArg != "latest" {
		t.Fatalf("requested block %q, want latest", node.blockArg)
	}

	id, err := c.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Int64() != 42161 {
		t.Fatalf("chain id = %s", id)
	}
}

func TestLatestTimestampWithoutHead(t *testing.T) {
	c := dialFake(t, &fakeNode{})
	if _, err := c.LatestTimestamp(context.Background()); err != ethereum.NotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestCallContract(t *testing.T) {
	node := &fakeNode{}
	c := dialFake(t, node)
	feed := common.HexToAddress("0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612")

	out, err := c.CallContract(context.Background(), ethereum.CallMsg{To: &feed, Data: []byte{0xfe, 0xaf}}, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 2 || out[0] != 0x01 {
		t.Fatalf("result = %x", out)
	}
	if to, _ := node.callTo.(string); !common.IsHexAddress(to) || common.HexToAddress(to) != feed {
		t.Fatalf("called %v, want %s", node.callTo, feed.Hex())
	}
}
