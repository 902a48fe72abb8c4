package connection

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/surrealdb/signalr.go/internal/rand"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/wire"
)

// Negotiate asks the server for a session without starting the connection.
func (c *Connection) Negotiate(ctx context.Context) (*wire.NegotiateResponse, error) {
	return c.negotiate(ctx)
}

func (c *Connection) negotiate(ctx context.Context) (*wire.NegotiateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPTimeout)
	defer cancel()

	endpoint := c.prepareQueryString(c.url + constants.NegotiatePath + "?clientProtocol=" + url.QueryEscape(constants.ClientProtocol))
	c.logger.Debug("Negotiating", "url", endpoint)

	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrNegotiationFailed, err)
	}

	var res wire.NegotiateResponse
	if err := c.unmarshaler.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrNegotiationFailed, err)
	}
	if res.ProtocolVersion != constants.ProtocolVersion {
		return nil, fmt.Errorf("%w: client %s, server %s", constants.ErrIncompatibleProtocol, constants.ProtocolVersion, res.ProtocolVersion)
	}
	return &res, nil
}

// applyNegotiation stores the negotiated session. c.mu must be held.
func (c *Connection) applyNegotiation(res *wire.NegotiateResponse) {
	c.session.appRelativeURL = res.URL
	c.session.id = res.ConnectionID
	c.session.token = res.ConnectionToken
	c.session.webSocketServerURL = res.WebSocketServerURL
	c.session.disconnectTimeout = seconds(res.DisconnectTimeout)
	if c.session.disconnectTimeout <= 0 {
		c.session.disconnectTimeout = constants.DefaultDisconnectTimeout
	}
	c.session.transportConnectTimeout = seconds(res.TransportConnectTimeout)
	c.session.longPollDelay = seconds(res.LongPollDelay)
	c.session.pollTimeout = 0
	if res.ConnectionTimeout > 0 {
		c.session.pollTimeout = seconds(res.ConnectionTimeout) + constants.LongPollingTimeoutPadding
	}

	c.keepAlive = keepAliveData{}
	if res.KeepAliveTimeout != nil && *res.KeepAliveTimeout > 0 {
		timeout := seconds(*res.KeepAliveTimeout)
		warning := time.Duration(math.Round(float64(timeout) * c.keepAliveWarnAt))
		c.keepAlive = keepAliveData{
			activated:      true,
			timeout:        timeout,
			timeoutWarning: warning,
			checkInterval:  (timeout - warning) / 3,
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// TransportURL builds the URL of a transport request. Initial requests go to
// the connect endpoint. Reconnect requests carry the message cursor and go to
// the reconnect endpoint when appendReconnect is set.
func (c *Connection) TransportURL(transport string, reconnecting, appendReconnect bool) string {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	return c.buildURL(c.baseURL+s.appRelativeURL, transport, s, reconnecting, appendReconnect)
}

// SocketURL builds the websocket URL, honoring a negotiated websocket server.
func (c *Connection) SocketURL(reconnecting bool) string {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	prefix := s.webSocketServerURL
	if prefix == "" {
		prefix = c.wsScheme + "://" + c.host
	}
	return c.buildURL(prefix+s.appRelativeURL, constants.TransportWebSockets, s, reconnecting, true)
}

func (c *Connection) buildURL(base, transport string, s session, reconnecting, appendReconnect bool) string {
	var qs strings.Builder
	qs.WriteString("transport=" + transport)
	qs.WriteString("&connectionToken=" + url.QueryEscape(s.token))
	if s.data != "" {
		qs.WriteString("&connectionData=" + url.QueryEscape(s.data))
	}
	if s.groupsToken != "" {
		qs.WriteString("&groupsToken=" + url.QueryEscape(s.groupsToken))
	}

	endpoint := base
	if !reconnecting {
		endpoint += constants.ConnectPath
	} else {
		if appendReconnect {
			endpoint += constants.ReconnectPath
		}
		if s.messageID != "" {
			qs.WriteString("&messageId=" + url.QueryEscape(s.messageID))
		}
	}

	endpoint = c.prepareQueryString(endpoint + "?" + qs.String())
	return endpoint + "&tid=" + strconv.Itoa(rand.TieBreaker())
}

// prepareQueryString appends the caller's query string.
func (c *Connection) prepareQueryString(endpoint string) string {
	if c.qs == "" {
		return endpoint
	}
	sep := "&"
	if !strings.Contains(endpoint, "?") {
		sep = "?"
	}
	return endpoint + sep + c.qs
}

func (c *Connection) sessionQuery(transport string) string {
	c.mu.Lock()
	token := c.session.token
	c.mu.Unlock()
	return "?transport=" + transport + "&connectionToken=" + url.QueryEscape(token)
}

// jsonpURL adds the JSONP callback parameter when JSONP is enabled.
func (c *Connection) jsonpURL(endpoint string) string {
	c.mu.Lock()
	jsonp, callback := c.jsonp, c.callback
	c.mu.Unlock()
	if !jsonp {
		return endpoint
	}
	sep := "&"
	if !strings.Contains(endpoint, "?") {
		sep = "?"
	}
	return endpoint + sep + "callback=" + callback
}

// MakeRequest performs req and returns the body of a 2xx response.
func (c *Connection) MakeRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if c.IsJSONP() {
			return wire.UnwrapJSONP(respBytes), nil
		}
		return respBytes, nil
	}
	return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBytes))}
}

// Get issues a GET request bound to ctx.
func (c *Connection) Get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jsonpURL(endpoint), http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.MakeRequest(req)
}

// AjaxSend posts data to the send endpoint. A non-empty response body is
// raised as a received message.
func (c *Connection) AjaxSend(ctx context.Context, transport string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPTimeout)
	defer cancel()

	endpoint := c.prepareQueryString(c.url + constants.SendPath + c.sessionQuery(transport))
	form := url.Values{"data": {string(data)}}.Encode()

	var req *http.Request
	var err error
	if c.IsJSONP() {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.jsonpURL(endpoint+"&"+form), http.NoBody)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		}
	}
	if err != nil {
		return err
	}

	body, err := c.MakeRequest(req)
	if err != nil {
		if isCancellation(err) && c.IsDisconnecting() {
			return err
		}
		err = fmt.Errorf("send failed: %w", err)
		c.EmitError(err)
		return err
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		c.RaiseReceived(body)
	}
	return nil
}

// AjaxAbort tells the server the session is over. Errors are only logged.
func (c *Connection) AjaxAbort(transport string, async bool) {
	endpoint := c.prepareQueryString(c.url + constants.AbortPath + c.sessionQuery(transport))

	abort := func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.AbortTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jsonpURL(endpoint), http.NoBody)
		if err != nil {
			c.logger.Debug("Failed to build abort request", "error", err)
			return
		}
		if _, err := c.MakeRequest(req); err != nil {
			c.logger.Debug("Abort request failed", "error", err)
			return
		}
		c.logger.Info("Fired ajax abort", "async", async)
	}

	if async {
		go abort()
		return
	}
	abort()
}

// Ping checks that the server is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPTimeout)
	defer cancel()

	body, err := c.Get(ctx, c.prepareQueryString(c.url+constants.PingPath))
	if err != nil {
		return err
	}

	var res wire.PingResponse
	if err := c.unmarshaler.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("%w: %w", constants.ErrInvalidPingResponse, err)
	}
	if res.Response != wire.Pong {
		return fmt.Errorf("%w: %q", constants.ErrInvalidPingResponse, res.Response)
	}
	return nil
}
