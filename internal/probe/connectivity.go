package probe

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dmrelay/internal/constants"
	"dmrelay/internal/models"
	"dmrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Prober runs the low-level connectivity battery against the backend
// origin. A test passes when an HTTP response of ANY status arrives: a 404
// from a live server still proves reachability, and the point of the
// battery is to separate "backend down" from "our routes are wrong".
type Prober struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *logrus.Logger
}

func NewProber(baseURL string, timeout time.Duration, httpClient *http.Client, logger *logrus.Logger) *Prober {
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultProbeTimeoutSec) * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Prober{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		timeout: timeout,
		logger:  logger,
	}
}

// Connectivity runs the battery sequentially and always returns a report;
// individual test failures are recorded, never propagated as errors.
func (p *Prober) Connectivity(ctx context.Context) *models.ConnectivityReport {
	ctx, span := tracing.StartSpan(ctx, "probe.connectivity")
	defer span.End()

	report := &models.ConnectivityReport{RanAt: time.Now().UTC()}

	report.Tests = append(report.Tests, p.httpTest(ctx, "api root", p.baseURL+"/api", http.MethodGet))
	report.Tests = append(report.Tests, p.rawSocketTest(ctx))
	report.Tests = append(report.Tests, p.httpTest(ctx, "origin head", p.baseURL+"/", http.MethodHead))

	for _, test := range report.Tests {
		if test.OK {
			report.BackendReachable = true
			break
		}
	}

	p.logger.WithFields(logrus.Fields{
		"reachable": report.BackendReachable,
		"tests":     len(report.Tests),
	}).Info("Connectivity battery completed")

	return report
}

// httpTest checks a target through the standard HTTP client, the same path
// the dispatcher uses.
func (p *Prober) httpTest(ctx context.Context, name, target, method string) models.ConnectivityTest {
	test := models.ConnectivityTest{
		Name:      name,
		Target:    target,
		CheckedAt: time.Now().UTC(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		test.Error = err.Error()
		return test
	}

	resp, err := p.client.Do(req)
	test.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		test.Error = err.Error()
		return test
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	test.HTTPStatus = &status
	test.OK = true
	return test
}

// rawSocketTest bypasses the HTTP client entirely: dial the origin
// ourselves and speak a minimal HTTP/1.1 exchange against the same API
// root the client test targets, so the two tests differ only in transport
// layer. This distinguishes a dead backend from a broken client-side
// transport configuration (proxy settings, TLS interception).
func (p *Prober) rawSocketTest(ctx context.Context) models.ConnectivityTest {
	test := models.ConnectivityTest{
		Name:      "raw socket",
		Target:    p.baseURL + "/api",
		CheckedAt: time.Now().UTC(),
	}

	parsed, err := url.Parse(p.baseURL)
	if err != nil {
		test.Error = fmt.Sprintf("invalid base URL: %v", err)
		return test
	}

	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		if parsed.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(host, port)

	start := time.Now()

	dialer := &net.Dialer{Timeout: p.timeout}
	var conn net.Conn
	if parsed.Scheme == "https" {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		test.LatencyMs = time.Since(start).Milliseconds()
		test.Error = err.Error()
		return test
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(p.timeout))
	}

	request := fmt.Sprintf("GET %s/api HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", parsed.Path, parsed.Host)
	if _, err := conn.Write([]byte(request)); err != nil {
		test.LatencyMs = time.Since(start).Milliseconds()
		test.Error = err.Error()
		return test
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	test.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		test.Error = err.Error()
		return test
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	test.HTTPStatus = &status
	test.OK = true
	return test
}
