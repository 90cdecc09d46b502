package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// XRPLTransaction is one transaction message from the XRPL stream.
// Amount is raw JSON: a plain string (drops) for native XRP, an object
// for issued currencies.
type XRPLTransaction struct {
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Amount          json.RawMessage `json:"Amount"`
	Hash            string          `json:"hash"`
	Memos           []XRPLMemoWrap  `json:"Memos"`
}

// XRPLMemoWrap XRPL memo envelope
type XRPLMemoWrap struct {
	Memo XRPLMemo `json:"Memo"`
}

// XRPLMemo hex-encoded memo fields
type XRPLMemo struct {
	MemoData string `json:"MemoData"`
	MemoType string `json:"MemoType"`
}

// XRPLStreamMessage one message on the subscription stream
type XRPLStreamMessage struct {
	Type        string           `json:"type"`
	Validated   bool             `json:"validated"`
	Transaction *XRPLTransaction `json:"transaction"`
	// DeliveredAmount from metadata; authoritative over Amount for
	// partial payments.
	Meta struct {
		DeliveredAmount json.RawMessage `json:"delivered_amount"`
	} `json:"meta"`
}

// XRPLTxResult result of a transaction lookup
type XRPLTxResult struct {
	Hash      string
	Validated bool
	Result    string // engine result, e.g. tesSUCCESS
}

// XRPLClient is a websocket client for an XRPL node. It multiplexes
// request/response commands (by request id) and the transaction
// subscription stream over one connection.
type XRPLClient struct {
	url  string
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan json.RawMessage

	stream   chan XRPLStreamMessage
	closed   chan struct{}
	closeOne sync.Once
}

type xrplResponse struct {
	ID     int64           `json:"id"`
	Type   string          `json:"type"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// NewXRPLClient creates a client for the given websocket endpoint
func NewXRPLClient(url string) *XRPLClient {
	return &XRPLClient{
		url:     url,
		pending: make(map[int64]chan json.RawMessage),
		stream:  make(chan XRPLStreamMessage, 256),
		closed:  make(chan struct{}),
	}
}

// Connect dials the node and starts the read loop
func (c *XRPLClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial XRPL node %s: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop()
	log.Printf("✅ Connected to XRPL node %s", c.url)
	return nil
}

// Close tears the connection down; the Messages channel is closed once
// the read loop exits.
func (c *XRPLClient) Close() {
	c.closeOne.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Messages returns the subscription stream channel. The channel is
// closed when the connection dies; callers reconnect with a new client.
func (c *XRPLClient) Messages() <-chan XRPLStreamMessage {
	return c.stream
}

func (c *XRPLClient) readLoop() {
	defer close(c.stream)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				log.Printf("❌ XRPL stream read error: %v", err)
			}
			c.failPending()
			return
		}

		var resp xrplResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("⚠️ Dropping malformed XRPL message: %v", err)
			continue
		}

		// Command responses carry the request id we sent.
		if resp.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if ok {
				ch <- data
			}
			continue
		}

		if resp.Type == "transaction" {
			var msg XRPLStreamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("⚠️ Dropping malformed XRPL transaction message: %v", err)
				continue
			}
			select {
			case c.stream <- msg:
			default:
				log.Printf("⚠️ XRPL stream buffer full, dropping transaction message")
			}
		}
	}
}

func (c *XRPLClient) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// request sends a command and waits for the matching response
func (c *XRPLClient) request(ctx context.Context, command string, params map[string]interface{}) (json.RawMessage, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("XRPL client is not connected")
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan json.RawMessage, 1)
	c.pending[id] = ch

	payload := map[string]interface{}{"id": id, "command": command}
	for k, v := range params {
		payload[k] = v
	}
	err := c.conn.WriteJSON(payload)
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send %s command: %w", command, err)
	}

	select {
	case data, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed while waiting for %s response", command)
		}
		var resp xrplResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("malformed %s response: %w", command, err)
		}
		if resp.Status != "success" {
			return nil, fmt.Errorf("%s command failed: %s", command, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("XRPL client closed")
	}
}

// SubscribeAccounts adds accounts to the live transaction subscription
func (c *XRPLClient) SubscribeAccounts(ctx context.Context, accounts []string) error {
	if len(accounts) == 0 {
		return nil
	}
	_, err := c.request(ctx, "subscribe", map[string]interface{}{"accounts": accounts})
	return err
}

// UnsubscribeAccounts removes accounts from the live subscription
func (c *XRPLClient) UnsubscribeAccounts(ctx context.Context, accounts []string) error {
	if len(accounts) == 0 {
		return nil
	}
	_, err := c.request(ctx, "unsubscribe", map[string]interface{}{"accounts": accounts})
	return err
}

// XRPLLookupClient performs one-shot transaction lookups over a
// short-lived connection. Lookup traffic is sparse enough that keeping
// a second subscription connection alive is not worth the reconnect
// handling.
type XRPLLookupClient struct {
	url string
}

// NewXRPLLookupClient creates a lookup client for the given endpoint
func NewXRPLLookupClient(url string) *XRPLLookupClient {
	return &XRPLLookupClient{url: url}
}

// GetTransaction dials, looks the transaction up and disconnects
func (c *XRPLLookupClient) GetTransaction(ctx context.Context, hash string) (*XRPLTxResult, error) {
	client := NewXRPLClient(c.url)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Close()
	return client.GetTransaction(ctx, hash)
}

// GetTransaction looks a transaction up by hash and reports whether the
// ledger has validated it.
func (c *XRPLClient) GetTransaction(ctx context.Context, hash string) (*XRPLTxResult, error) {
	result, err := c.request(ctx, "tx", map[string]interface{}{"transaction": hash})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Hash      string `json:"hash"`
		Validated bool   `json:"validated"`
		Meta      struct {
			TransactionResult string `json:"TransactionResult"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("malformed tx result: %w", err)
	}
	return &XRPLTxResult{
		Hash:      parsed.Hash,
		Validated: parsed.Validated,
		Result:    parsed.Meta.TransactionResult,
	}, nil
}
