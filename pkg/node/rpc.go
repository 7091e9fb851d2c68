package node

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// interface guard ensures L1RPC implements obscura.L1
var _ obscura.L1 = L1RPC{}

// NewL1RPC returns an obscura.L1 implementor that talks to an obscura
// node's JSON-RPC interface.
func NewL1RPC(config obscura.Config) (L1RPC, error) {
	node, ok := config.Node[config.Obscurawallet.Node]
	if !ok {
		return L1RPC{}, fmt.Errorf("no node config named %q", config.Obscurawallet.Node)
	}
	addr := fmt.Sprintf("http://%s:%d", node.RPCHost, node.RPCPort)
	var id uint64 = 1
	return L1RPC{addr, node.RPCUser, node.RPCPass, &id}, nil
}

type L1RPC struct {
	url  string
	user string
	pass string
	id   *uint64
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	Id     uint64        `json:"id"`
}
type rpcResponse struct {
	Id     uint64           `json:"id"`
	Result *json.RawMessage `json:"result"`
	Error  interface{}      `json:"error"`
}

func (l L1RPC) request(method string, params []interface{}, result interface{}) error {
	body := rpcRequest{
		Method: method,
		Params: params,
		Id:     *l.id,
	}
	*l.id += 1 // each request should use a unique ID
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("json-rpc marshal request: %v", err)
	}
	req, err := http.NewRequest("POST", l.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("json-rpc request: %v", err)
	}
	req.SetBasicAuth(l.user, l.pass)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("json-rpc transport: %v", err)
	}
	// we MUST read all of res.Body and call res.Close,
	// otherwise the underlying connection cannot be re-used.
	defer res.Body.Close()
	res_bytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("json-rpc read response: %v", err)
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("json-rpc status code: %s", res.Status)
	}
	var rpcres rpcResponse
	err = json.Unmarshal(res_bytes, &rpcres)
	if err != nil {
		return fmt.Errorf("json-rpc unmarshal response: %v", err)
	}
	if rpcres.Id != body.Id {
		return fmt.Errorf("json-rpc wrong ID returned: %v vs %v", rpcres.Id, body.Id)
	}
	if rpcres.Error != nil {
		return fmt.Errorf("json-rpc error returned: %v", rpcres.Error)
	}
	if rpcres.Result == nil {
		return fmt.Errorf("json-rpc missing result")
	}
	err = json.Unmarshal(*rpcres.Result, result)
	if err != nil {
		return fmt.Errorf("json-rpc unmarshal result: %v | %v", err, string(*rpcres.Result))
	}
	return nil
}

func (l L1RPC) GetBlockCount() (blockCount int64, err error) {
	err = l.request("getblockcount", []interface{}{}, &blockCount)
	return
}

// rpcBlock is the node's wire form of a block: binary fields hex-encoded.
type rpcBlock struct {
	Height    int64    `json:"height"`
	TxOuts    []string `json:"tx_outs"`
	KeyImages []string `json:"key_images"`
}

func (l L1RPC) GetBlock(height int64) (obscura.Block, error) {
	var raw rpcBlock
	if err := l.request("getblock", []interface{}{height}, &raw); err != nil {
		return obscura.Block{}, err
	}
	block := obscura.Block{Height: raw.Height}
	for _, txOutHex := range raw.TxOuts {
		b, err := hex.DecodeString(txOutHex)
		if err != nil {
			return obscura.Block{}, fmt.Errorf("getblock: bad tx_out hex: %v", err)
		}
		txOut, err := obx.TxOutFromBytes(b)
		if err != nil {
			return obscura.Block{}, fmt.Errorf("getblock: bad tx_out: %v", err)
		}
		block.TxOuts = append(block.TxOuts, txOut)
	}
	for _, keyImageHex := range raw.KeyImages {
		keyImage, err := hex.DecodeString(keyImageHex)
		if err != nil {
			return obscura.Block{}, fmt.Errorf("getblock: bad key_image hex: %v", err)
		}
		block.KeyImages = append(block.KeyImages, keyImage)
	}
	return block, nil
}

// rpcTx is the wire form of a submitted transaction: the node only
// needs the outputs to append and the key images they consume.
type rpcTx struct {
	TxOuts               []string `json:"tx_outs"`
	KeyImages            []string `json:"key_images"`
	TombstoneBlockHeight int64    `json:"tombstone_block_height"`
	Fee                  uint64   `json:"fee"`
}

func (l L1RPC) SubmitTx(proposal obscura.TxProposal) error {
	tx := rpcTx{
		TombstoneBlockHeight: proposal.TombstoneBlockHeight,
		Fee:                  proposal.Fee,
	}
	for _, txOut := range proposal.OutputTxOuts {
		tx.TxOuts = append(tx.TxOuts, hex.EncodeToString(txOut.Bytes()))
	}
	for _, input := range proposal.InputTxos {
		if input.KeyImage == nil {
			return fmt.Errorf("submittransaction: input %s has no key image", input.TxoID)
		}
		tx.KeyImages = append(tx.KeyImages, hex.EncodeToString(input.KeyImage))
	}
	var accepted bool
	if err := l.request("submittransaction", []interface{}{tx}, &accepted); err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("submittransaction: node rejected transaction")
	}
	return nil
}
