package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// ClientConfig 返回出站连接使用的 TLS 配置：TLS 1.2+，仅 AEAD 密码套件
func ClientConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// transport 构建加固的 http.Transport；http2 决定是否协商 HTTP/2
func transport(http2 bool) *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: ClientConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     http2,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// HTTPClient 返回调用编排端点、执行端点的 http.Client
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: transport(true),
	}
}

// WebSocketClient 返回 WebSocket 握手用的 http.Client。
// 握手需要 HTTP/1.1 Upgrade，因此不协商 HTTP/2；超时由调用方 context 控制。
func WebSocketClient() *http.Client {
	return &http.Client{Transport: transport(false)}
}
