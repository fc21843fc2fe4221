// Package jupiter is the client for the Jupiter swap aggregator, used to
// route and settle token swaps on Solana.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/solwatch/solwatch/internal/domain"
)

// usdcMint is the mainnet USDC mint, the quote side of every swap.
const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// usdcDecimals is fixed by the USDC mint.
const usdcDecimals = 6

// Signer signs serialized Solana transactions with the trading identity.
type Signer interface {
	PublicKey() string
	SignTransaction(tx []byte) ([]byte, error)
}

// Client implements domain.ExecutionVenue against the Jupiter quote and swap
// API, submitting signed transactions through a Solana RPC endpoint.
type Client struct {
	baseURL        string
	rpcEndpoint    string
	httpClient     *http.Client
	signer         Signer
	maxSlippageBps float64
	priorityFeeSOL float64

	// decimals caches per-mint token decimals fetched from the RPC node.
	mu       sync.Mutex
	decimals map[string]int
}

var _ domain.ExecutionVenue = (*Client)(nil)

// NewClient creates a Jupiter client. baseURL is the quote API root, e.g.
// "https://quote-api.jup.ag/v6".
func NewClient(baseURL, rpcEndpoint string, signer Signer, maxSlippageBps, priorityFeeSOL float64) *Client {
	return &Client{
		baseURL:     baseURL,
		rpcEndpoint: rpcEndpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:         signer,
		maxSlippageBps: maxSlippageBps,
		priorityFeeSOL: priorityFeeSOL,
		decimals:       map[string]int{usdcMint: usdcDecimals},
	}
}

type quoteResponse struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	ErrorMessage   string `json:"error"`
}

// Execute routes the signal through Jupiter: quote, build swap transaction,
// sign, and submit. Entry signals buy the mint with USDC; exit signals sell
// the full quantity back to USDC. Venue-side rejections come back as a result
// with Success=false; transport failures return an error.
func (c *Client) Execute(ctx context.Context, sig domain.TradeSignal) (domain.ExecutionResult, error) {
	inputMint, outputMint := usdcMint, sig.Mint
	amountUI := sig.Price * sig.Quantity // USDC notional
	amountDecimals := usdcDecimals
	if sig.Kind == domain.SignalKindExit {
		inputMint, outputMint = sig.Mint, usdcMint
		amountUI = sig.Quantity
		d, err := c.tokenDecimals(ctx, sig.Mint)
		if err != nil {
			return domain.ExecutionResult{}, err
		}
		amountDecimals = d
	}
	amountRaw := uint64(math.Round(amountUI * math.Pow10(amountDecimals)))
	if amountRaw == 0 {
		return domain.ExecutionResult{Success: false, Message: "amount rounds to zero"}, nil
	}

	quote, raw, err := c.fetchQuote(ctx, inputMint, outputMint, amountRaw)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if quote.ErrorMessage != "" {
		return domain.ExecutionResult{Success: false, Message: quote.ErrorMessage}, nil
	}

	txB64, rejection, err := c.buildSwap(ctx, raw)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if rejection != "" {
		return domain.ExecutionResult{Success: false, Message: rejection}, nil
	}

	txBytes, err := base64.StdEncoding.DecodeString(txB64)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}
	signed, err := c.signer.SignTransaction(txBytes)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("jupiter: sign transaction: %w", err)
	}

	signature, rejection, err := c.sendTransaction(ctx, signed)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if rejection != "" {
		return domain.ExecutionResult{Success: false, Message: rejection}, nil
	}

	slippage, _ := strconv.ParseFloat(quote.PriceImpactPct, 64)
	return domain.ExecutionResult{
		Success:     true,
		Signature:   signature,
		Price:       sig.Price,
		FeeUSD:      c.priorityFeeSOL, // approximate; exact fee settles on-chain
		SlippageBps: slippage * 10000,
	}, nil
}

// Balance returns the wallet's available USDC balance in USD.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	params := []any{
		c.signer.PublicKey(),
		map[string]string{"mint": usdcMint},
		map[string]string{"encoding": "jsonParsed"},
	}
	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.rpcCall(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, fmt.Errorf("jupiter: get balance: %w", err)
	}

	var total float64
	for _, acc := range result.Value {
		total += acc.Account.Data.Parsed.Info.TokenAmount.UIAmount
	}
	return total, nil
}

func (c *Client) fetchQuote(ctx context.Context, inputMint, outputMint string, amount uint64) (quoteResponse, json.RawMessage, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		c.baseURL, inputMint, outputMint, amount, int(c.maxSlippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return quoteResponse{}, nil, fmt.Errorf("jupiter: create quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return quoteResponse{}, nil, fmt.Errorf("jupiter: quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return quoteResponse{}, nil, fmt.Errorf("jupiter: read quote response: %w", err)
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return quoteResponse{}, nil, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	if resp.StatusCode != http.StatusOK && quote.ErrorMessage == "" {
		quote.ErrorMessage = fmt.Sprintf("quote status %d: %s", resp.StatusCode, string(body))
	}
	return quote, body, nil
}

// buildSwap posts the quote back to the swap endpoint and returns the
// base64-serialized unsigned transaction, or a venue rejection message.
func (c *Client) buildSwap(ctx context.Context, quote json.RawMessage) (string, string, error) {
	payload, err := json.Marshal(map[string]any{
		"quoteResponse":             quote,
		"userPublicKey":             c.signer.PublicKey(),
		"wrapAndUnwrapSol":          true,
		"prioritizationFeeLamports": int64(c.priorityFeeSOL * 1e9),
	})
	if err != nil {
		return "", "", fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("jupiter: create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("jupiter: swap request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("jupiter: read swap response: %w", err)
	}

	var swap struct {
		SwapTransaction string `json:"swapTransaction"`
		ErrorMessage    string `json:"error"`
	}
	if err := json.Unmarshal(body, &swap); err != nil {
		return "", "", fmt.Errorf("jupiter: decode swap: %w", err)
	}
	if resp.StatusCode != http.StatusOK || swap.SwapTransaction == "" {
		msg := swap.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("swap status %d: %s", resp.StatusCode, string(body))
		}
		return "", msg, nil
	}
	return swap.SwapTransaction, "", nil
}

// sendTransaction submits the signed transaction and returns its signature,
// or the node's rejection message.
func (c *Client) sendTransaction(ctx context.Context, signed []byte) (string, string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(signed),
		map[string]any{"encoding": "base64", "maxRetries": 3},
	}
	var signature string
	if err := c.rpcCall(ctx, "sendTransaction", params, &signature); err != nil {
		var rpcErr *rpcError
		if asRPCError(err, &rpcErr) {
			return "", rpcErr.Message, nil
		}
		return "", "", fmt.Errorf("jupiter: send transaction: %w", err)
	}
	return signature, "", nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func asRPCError(err error, target **rpcError) bool {
	re, ok := err.(*rpcError)
	if ok {
		*target = re
	}
	return ok
}

// tokenDecimals resolves and caches the decimal count of a mint.
func (c *Client) tokenDecimals(ctx context.Context, mint string) (int, error) {
	c.mu.Lock()
	if d, ok := c.decimals[mint]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var result struct {
		Value struct {
			Decimals int `json:"decimals"`
		} `json:"value"`
	}
	if err := c.rpcCall(ctx, "getTokenSupply", []any{mint}, &result); err != nil {
		return 0, fmt.Errorf("jupiter: token decimals %s: %w", mint, err)
	}

	c.mu.Lock()
	c.decimals[mint] = result.Value.Decimals
	c.mu.Unlock()
	return result.Value.Decimals, nil
}

// rpcCall performs a JSON-RPC 2.0 request against the Solana node.
func (c *Client) rpcCall(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return nil
}
