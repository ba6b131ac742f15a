package eclair

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/rorp/rebalance-eclair/internal/rebalance"
)

const apiUser = "eclair-cli"

// Client is the Eclair REST adapter implementing rebalance.Node. The API is
// form-encoded POSTs with basic auth; every call carries its own timeout.
//
// Two transports: the retrying client serves the idempotent endpoints
// (getinfo, channels, createinvoice, getsentinfo); payinvoice goes through
// the single-shot client, since resubmitting a payment whose first response
// was lost creates a second payment.
type Client struct {
	address  string
	password string
	timeout  time.Duration
	http     *retryablehttp.Client
	submit   *http.Client
	logger   zerolog.Logger
}

func New(address, password string, timeout time.Duration, logger zerolog.Logger) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.RetryWaitMin = 200 * time.Millisecond
	httpClient.RetryWaitMax = 2 * time.Second
	httpClient.Logger = nil
	return &Client{
		address:  address,
		password: password,
		timeout:  timeout,
		http:     httpClient,
		submit:   &http.Client{},
		logger:   logger,
	}
}

// APIError is a failure reported by the node itself, as opposed to a
// transport failure.
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eclair %s: %s", e.Endpoint, e.Message)
}

func (c *Client) call(ctx context.Context, endpoint string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := ""
	if params != nil {
		body = params.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/%s", c.address, endpoint), strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(apiUser, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	return c.parseResponse(endpoint, resp, out)
}

// submitOnce posts without transport retries. A transport failure leaves the
// submission outcome unknown: the request may have reached the node, so the
// caller gets ErrSubmitUnknown and must reconcile instead of resubmitting.
func (c *Client) submitOnce(ctx context.Context, endpoint string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/%s", c.address, endpoint), strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(apiUser, c.password)

	resp, err := c.submit.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", rebalance.ErrSubmitUnknown, endpoint, err)
	}
	defer resp.Body.Close()
	return c.parseResponse(endpoint, resp, out)
}

func (c *Client) parseResponse(endpoint string, resp *http.Response, out any) error {
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
		return &APIError{Endpoint: endpoint, Message: apiErr.Error}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Endpoint: endpoint, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

type NodeInfo struct {
	NodeID string `json:"nodeId"`
	Alias  string `json:"alias"`
}

// GetInfo is used as the startup connectivity check.
func (c *Client) GetInfo(ctx context.Context) (NodeInfo, error) {
	var info NodeInfo
	if err := c.call(ctx, "getinfo", nil, &info); err != nil {
		return NodeInfo{}, err
	}
	return info, nil
}

type channelPayload struct {
	NodeID    string `json:"nodeId"`
	ChannelID string `json:"channelId"`
	State     string `json:"state"`
	Data      struct {
		Commitments struct {
			LocalCommit struct {
				Spec struct {
					ToLocalMsat  int64 `json:"toLocal"`
					ToRemoteMsat int64 `json:"toRemote"`
				} `json:"spec"`
			} `json:"localCommit"`
		} `json:"commitments"`
		ChannelUpdate struct {
			ShortChannelID string `json:"shortChannelId"`
		} `json:"channelUpdate"`
	} `json:"data"`
}

func (c *Client) ListChannels(ctx context.Context) ([]rebalance.Channel, error) {
	var payload []channelPayload
	if err := c.call(ctx, "channels", nil, &payload); err != nil {
		return nil, err
	}

	channels := make([]rebalance.Channel, 0, len(payload))
	for _, ch := range payload {
		id := ch.Data.ChannelUpdate.ShortChannelID
		if id == "" {
			id = ch.ChannelID
		}
		local := msatToSat(ch.Data.Commitments.LocalCommit.Spec.ToLocalMsat)
		remote := msatToSat(ch.Data.Commitments.LocalCommit.Spec.ToRemoteMsat)
		channels = append(channels, rebalance.Channel{
			ChannelID:        id,
			PeerPubkey:       ch.NodeID,
			CapacitySat:      local + remote,
			LocalBalanceSat:  local,
			RemoteBalanceSat: remote,
			Active:           ch.State == "NORMAL",
		})
	}
	return channels, nil
}

type invoicePayload struct {
	Serialized  string `json:"serialized"`
	PaymentHash string `json:"paymentHash"`
}

func (c *Client) CreateInvoice(ctx context.Context, amountSat int64, description string) (rebalance.Invoice, error) {
	params := url.Values{}
	params.Set("description", description)
	params.Set("amountMsat", strconv.FormatInt(amountSat*1000, 10))

	var payload invoicePayload
	if err := c.call(ctx, "createinvoice", params, &payload); err != nil {
		return rebalance.Invoice{}, err
	}
	return rebalance.Invoice{ID: payload.Serialized, PaymentHash: payload.PaymentHash}, nil
}

func (c *Client) PayInvoice(ctx context.Context, invoiceID string, maxFeeSat int64, externalID string, hints rebalance.RouteHints) (string, error) {
	params := url.Values{}
	params.Set("invoice", invoiceID)
	params.Set("maxFeeFlatSat", strconv.FormatInt(maxFeeSat, 10))
	params.Set("maxAttempts", "1")
	if externalID != "" {
		params.Set("externalId", externalID)
	}
	if hints.OutgoingChannelID != "" {
		params.Set("outgoingShortChannelIds", hints.OutgoingChannelID)
	}
	if hints.IncomingChannelID != "" {
		params.Set("lastHopShortChannelIds", hints.IncomingChannelID)
	}

	var raw json.RawMessage
	if err := c.submitOnce(ctx, "payinvoice", params, &raw); err != nil {
		return "", err
	}
	// Eclair answers with either the payment id as a bare JSON string or an
	// object carrying parentId.
	var id string
	if json.Unmarshal(raw, &id) == nil && id != "" {
		return id, nil
	}
	var obj struct {
		ParentID  string `json:"parentId"`
		PaymentID string `json:"paymentId"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.ParentID != "" {
			return obj.ParentID, nil
		}
		if obj.PaymentID != "" {
			return obj.PaymentID, nil
		}
	}
	return "", &APIError{Endpoint: "payinvoice", Message: "missing payment id in response"}
}

type sentInfoPayload struct {
	Status struct {
		Type         string `json:"type"`
		FeesPaidMsat int64  `json:"feesPaid"`
		Failures     []struct {
			Message string `json:"t"`
		} `json:"failures"`
	} `json:"status"`
}

// GetPaymentStatus queries by payment id, falling back to the payment hash
// when no id ever came back from submission.
func (c *Client) GetPaymentStatus(ctx context.Context, paymentID, paymentHash string) (rebalance.PaymentStatus, error) {
	params := url.Values{}
	if paymentID != "" {
		params.Set("id", paymentID)
	} else {
		params.Set("paymentHash", paymentHash)
	}

	var parts []sentInfoPayload
	if err := c.call(ctx, "getsentinfo", params, &parts); err != nil {
		return rebalance.PaymentStatus{}, err
	}
	if len(parts) == 0 {
		return rebalance.PaymentStatus{State: rebalance.PaymentPending}, nil
	}

	var feesMsat int64
	anySent := false
	anyPending := false
	var failures []string
	for _, part := range parts {
		switch part.Status.Type {
		case "sent":
			anySent = true
			feesMsat += part.Status.FeesPaidMsat
		case "pending":
			anyPending = true
		case "failed":
			for _, failure := range part.Status.Failures {
				failures = append(failures, failure.Message)
			}
		}
	}

	switch {
	case anyPending:
		return rebalance.PaymentStatus{State: rebalance.PaymentPending}, nil
	case anySent:
		return rebalance.PaymentStatus{State: rebalance.PaymentSucceeded, FeePaidSat: msatToSatCeil(feesMsat)}, nil
	default:
		return rebalance.PaymentStatus{State: rebalance.PaymentFailed, FailureReason: strings.Join(failures, ", ")}, nil
	}
}

func msatToSat(msat int64) int64 {
	return msat / 1000
}

func msatToSatCeil(msat int64) int64 {
	if msat <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(msat) / 1000.0))
}
