package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/org"
)

const (
	apexDescriptor = "aura://ApexActionController/ACTION$execute"
	auraAppPath    = "/one/one.app"
	auraPath       = "/aura"
	maxApexBody    = 1 << 20
)

var (
	fwuidPattern  = regexp.MustCompile(`"fwuid"\s*:\s*"([^"]+)"`)
	loadedPattern = regexp.MustCompile(`"loaded"\s*:\s*(\{[^{}]*\})`)
)

// ErrAuraConfigNotFound is returned when the org's app page carries no
// framework configuration.
var ErrAuraConfigNotFound = errors.New("aura framework config not found in org response")

// ApexCall is the body the browser posts to invoke an Apex method.
type ApexCall struct {
	Namespace string          `json:"namespace"`
	Classname string          `json:"classname"`
	Method    string          `json:"method"`
	Cacheable bool            `json:"cacheable"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type auraConfig struct {
	FWUID  string          `json:"fwuid"`
	Loaded json.RawMessage `json:"loaded"`
}

type auraAction struct {
	ID                string         `json:"id"`
	Descriptor        string         `json:"descriptor"`
	CallingDescriptor string         `json:"callingDescriptor"`
	Params            map[string]any `json:"params"`
}

type auraResponse struct {
	Actions []struct {
		State       string          `json:"state"`
		ReturnValue json.RawMessage `json:"returnValue"`
		Error       json.RawMessage `json:"error"`
	} `json:"actions"`
}

// ApexHandler executes Apex methods on the org through the Aura endpoint. The
// framework config is fetched once per handler and reused.
type ApexHandler struct {
	provider org.Provider
	client   *http.Client
	logger   logging.Logger

	mu     sync.Mutex
	config *auraConfig
}

// NewApexHandler creates a handler bound to provider.
func NewApexHandler(provider org.Provider, logger logging.Logger) *ApexHandler {
	return &ApexHandler{
		provider: provider,
		client:   http.DefaultClient,
		logger:   logger.WithComponent("apex"),
	}
}

// ServeHTTP implements http.Handler.
func (h *ApexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var call ApexCall
	if err := json.NewDecoder(io.LimitReader(r.Body, maxApexBody)).Decode(&call); err != nil {
		http.Error(w, "invalid apex request body", http.StatusBadRequest)
		return
	}
	if call.Classname == "" || call.Method == "" {
		http.Error(w, "classname and method are required", http.StatusBadRequest)
		return
	}

	conn, err := h.provider.Connection(ctx)
	if err != nil {
		h.logger.Error(ctx, err, "Org connection unavailable")
		http.Error(w, "org connection unavailable", http.StatusBadGateway)
		return
	}

	cfg, err := h.auraConfig(ctx, conn)
	if err != nil {
		h.logger.Error(ctx, err, "Failed to load aura config", "instance_url", conn.InstanceURL)
		http.Error(w, "failed to load org framework config", http.StatusBadGateway)
		return
	}

	status, body, err := h.execute(ctx, conn, cfg, call)
	if err != nil {
		h.logger.Error(ctx, err, "Apex call failed", "class", call.Classname, "method", call.Method)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *ApexHandler) auraConfig(ctx context.Context, conn *org.Connection) (*auraConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config != nil {
		return h.config, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(conn.InstanceURL, "/")+auraAppPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", auraAppPath, err)
	}
	defer resp.Body.Close()

	page, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", auraAppPath, err)
	}

	cfg, err := parseAuraConfig(page)
	if err != nil {
		return nil, err
	}
	h.config = cfg
	h.logger.Debug(ctx, "Loaded aura config", "fwuid", cfg.FWUID)
	return cfg, nil
}

func parseAuraConfig(page []byte) (*auraConfig, error) {
	fwuid := fwuidPattern.FindSubmatch(page)
	if fwuid == nil {
		return nil, ErrAuraConfigNotFound
	}
	cfg := &auraConfig{FWUID: string(fwuid[1]), Loaded: json.RawMessage(`{}`)}
	if loaded := loadedPattern.FindSubmatch(page); loaded != nil && json.Valid(loaded[1]) {
		cfg.Loaded = json.RawMessage(loaded[1])
	}
	return cfg, nil
}

func (h *ApexHandler) execute(ctx context.Context, conn *org.Connection, cfg *auraConfig, call ApexCall) (int, []byte, error) {
	params := map[string]any{
		"namespace":      call.Namespace,
		"classname":      call.Classname,
		"method":         call.Method,
		"cacheable":      call.Cacheable,
		"isContinuation": false,
	}
	if len(call.Params) > 0 {
		params["params"] = call.Params
	}

	message, err := json.Marshal(map[string]any{
		"actions": []auraAction{{
			ID:                "1;a",
			Descriptor:        apexDescriptor,
			CallingDescriptor: "UNKNOWN",
			Params:            params,
		}},
	})
	if err != nil {
		return 0, nil, err
	}
	auraContext, err := json.Marshal(map[string]any{
		"mode":    "PROD",
		"fwuid":   cfg.FWUID,
		"app":     "one:one",
		"loaded":  cfg.Loaded,
		"dn":      []string{},
		"globals": map[string]any{},
		"uad":     false,
	})
	if err != nil {
		return 0, nil, err
	}

	form := url.Values{}
	form.Set("message", string(message))
	form.Set("aura.context", string(auraContext))
	form.Set("aura.pageURI", auraAppPath)
	form.Set("aura.token", conn.AccessToken)

	endpoint := strings.TrimRight(conn.InstanceURL, "/") + auraPath + "?r=1&aura.ApexAction.execute=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("posting apex action: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading apex response: %w", err)
	}

	raw = bytes.TrimPrefix(bytes.TrimSpace(raw), []byte("while(1);"))

	var decoded auraResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Actions) == 0 {
		return 0, nil, fmt.Errorf("unexpected aura response (status %d)", resp.StatusCode)
	}

	action := decoded.Actions[0]
	if action.State != "SUCCESS" {
		body := action.Error
		if len(body) == 0 {
			body = json.RawMessage(`[]`)
		}
		return http.StatusBadRequest, body, nil
	}
	if len(action.ReturnValue) == 0 {
		return http.StatusOK, []byte("null"), nil
	}
	return http.StatusOK, action.ReturnValue, nil
}
