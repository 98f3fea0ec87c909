package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const shopifyAdminAPIVersion = "2024-01"

// ShopifyWebhookRegistration is one webhook subscription in the shop's
// admin API.
type ShopifyWebhookRegistration struct {
	ID      int64  `json:"id"`
	Topic   string `json:"topic"`
	Address string `json:"address"`
	Format  string `json:"format"`
}

// ShopifyAdminClient talks to the storefront admin API for webhook
// subscription management.
type ShopifyAdminClient struct {
	httpClient  *http.Client
	shopDomain  string
	accessToken string
}

// NewShopifyAdminClient creates an admin API client for the given shop.
// A nil httpClient gets a default with a 10s timeout.
func NewShopifyAdminClient(httpClient *http.Client, shopDomain, accessToken string) *ShopifyAdminClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ShopifyAdminClient{
		httpClient:  httpClient,
		shopDomain:  shopDomain,
		accessToken: accessToken,
	}
}

func (c *ShopifyAdminClient) url(path string) string {
	return fmt.Sprintf("https://%s/admin/api/%s/%s", c.shopDomain, shopifyAdminAPIVersion, path)
}

func (c *ShopifyAdminClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return fmt.Errorf("building admin request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling admin api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("admin api %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding admin response: %w", err)
	}
	return nil
}

// RegisterWebhook subscribes the address to a topic.
func (c *ShopifyAdminClient) RegisterWebhook(ctx context.Context, topic, address string) (*ShopifyWebhookRegistration, error) {
	req := map[string]any{
		"webhook": map[string]string{
			"topic":   topic,
			"address": address,
			"format":  "json",
		},
	}
	var resp struct {
		Webhook ShopifyWebhookRegistration `json:"webhook"`
	}
	if err := c.do(ctx, http.MethodPost, "webhooks.json", req, &resp); err != nil {
		return nil, fmt.Errorf("registering webhook for %s: %w", topic, err)
	}
	return &resp.Webhook, nil
}

// ListWebhooks returns the shop's current webhook subscriptions.
func (c *ShopifyAdminClient) ListWebhooks(ctx context.Context) ([]ShopifyWebhookRegistration, error) {
	var resp struct {
		Webhooks []ShopifyWebhookRegistration `json:"webhooks"`
	}
	if err := c.do(ctx, http.MethodGet, "webhooks.json", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return resp.Webhooks, nil
}
