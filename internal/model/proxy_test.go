package model

import "testing"

func TestFingerprint_IgnoresName(t *testing.T) {
	a := Proxy{Name: "A", Protocol: ProtocolShadowsocks, Server: "example.com", Port: 8388, Cipher: "aes-128-gcm", Password: "pass"}
	b := a
	b.Name = "B"
	b.Extra = map[string]any{"x": 1}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprint differs for name-only change")
	}

	c := a
	c.Port = 8389
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("fingerprint should differ when port differs")
	}
}

func TestFingerprint_TransportMatters(t *testing.T) {
	a := Proxy{Protocol: ProtocolVLESS, Server: "example.com", Port: 443, UUID: "11111111-1111-1111-1111-111111111111"}
	b := a
	b.Transport = Transport{Network: NetworkWS, Path: "/api"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("fingerprint should include transport options")
	}

	// Empty network is tcp.
	c := a
	c.Transport.Network = NetworkTCP
	if a.Fingerprint() != c.Fingerprint() {
		t.Fatalf("empty network should hash like tcp")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Proxy
		ok   bool
	}{
		{"ss ok", Proxy{Protocol: ProtocolShadowsocks, Server: "example.com", Port: 1, Cipher: "aes-128-gcm", Password: "p"}, true},
		{"port zero", Proxy{Protocol: ProtocolShadowsocks, Server: "example.com", Port: 0, Cipher: "aes-128-gcm", Password: "p"}, false},
		{"port high", Proxy{Protocol: ProtocolTrojan, Server: "example.com", Port: 65536, Password: "p"}, false},
		{"loopback", Proxy{Protocol: ProtocolTrojan, Server: "127.0.0.1", Port: 443, Password: "p"}, false},
		{"localhost", Proxy{Protocol: ProtocolTrojan, Server: "localhost", Port: 443, Password: "p"}, false},
		{"wildcard", Proxy{Protocol: ProtocolTrojan, Server: "0.0.0.0", Port: 443, Password: "p"}, false},
		{"ipv6 loopback", Proxy{Protocol: ProtocolTrojan, Server: "::1", Port: 443, Password: "p"}, false},
		{"vmess no uuid", Proxy{Protocol: ProtocolVMess, Server: "example.com", Port: 443}, false},
		{"unknown protocol", Proxy{Protocol: "http", Server: "example.com", Port: 80}, false},
		{"bad network", Proxy{Protocol: ProtocolVLESS, Server: "example.com", Port: 443, UUID: "u", Transport: Transport{Network: "grpc"}}, false},
	}
	for _, tt := range tests {
		err := tt.p.Validate()
		if (err == nil) != tt.ok {
			t.Fatalf("%s: err=%v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestCanonicalPlugin_FoldsSpellings(t *testing.T) {
	name, opts := CanonicalPlugin(" Simple-Obfs ", []KV{{Key: "obfs-host", Value: "h.example"}, {Key: "obfs", Value: "http"}})
	if name != "obfs-local" {
		t.Fatalf("name=%q, want=%q", name, "obfs-local")
	}
	if len(opts) != 2 || opts[0].Key != "obfs" || opts[1].Key != "obfs-host" {
		t.Fatalf("opts=%v, want sorted by key", opts)
	}

	_, opts = CanonicalPlugin("v2ray-plugin", []KV{{Key: "tls"}, {Key: "mode", Value: "websocket"}})
	want := []KV{{Key: "mode", Value: "websocket"}, {Key: "tls", Value: "true"}}
	if len(opts) != len(want) || opts[0] != want[0] || opts[1] != want[1] {
		t.Fatalf("opts=%v, want=%v", opts, want)
	}
}

func TestFingerprint_PluginSpellingsCollide(t *testing.T) {
	a := Proxy{Protocol: ProtocolShadowsocks, Server: "example.com", Port: 8388, Cipher: "aes-128-gcm", Password: "p",
		PluginName: "simple-obfs", PluginOpts: []KV{{Key: "obfs-host", Value: "h"}, {Key: "obfs", Value: "http"}}}
	b := a
	b.PluginName = "obfs-local"
	b.PluginOpts = []KV{{Key: "obfs", Value: "http"}, {Key: "obfs-host", Value: "h"}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("simple-obfs and obfs-local should hash the same")
	}

	c := Proxy{Protocol: ProtocolShadowsocks, Server: "example.com", Port: 8388, Cipher: "aes-128-gcm", Password: "p",
		PluginName: "v2ray-plugin", PluginOpts: []KV{{Key: "tls"}, {Key: "mode", Value: "websocket"}}}
	d := c
	d.PluginOpts = []KV{{Key: "mode", Value: "websocket"}, {Key: "tls", Value: "true"}}
	if c.Fingerprint() != d.Fingerprint() {
		t.Fatalf("bare flag should hash like flag=true")
	}
}

func TestFingerprint_RealityAndFlow(t *testing.T) {
	a := Proxy{Protocol: ProtocolVLESS, Server: "example.com", Port: 443, UUID: "11111111-1111-1111-1111-111111111111",
		Transport: Transport{TLS: true, SNI: "www.example.com"}}
	b := a
	b.Transport.Reality = &Reality{PublicKey: "pk", ShortID: "ab"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("reality keys should be part of the fingerprint")
	}
	c := b
	c.Flow = "xtls-rprx-vision"
	if b.Fingerprint() == c.Fingerprint() {
		t.Fatalf("flow should be part of the fingerprint")
	}
}

func TestValidate_TLSRequirements(t *testing.T) {
	trojan := Proxy{Protocol: ProtocolTrojan, Server: "example.com", Port: 443, Password: "p"}
	if err := trojan.Validate(); err == nil {
		t.Fatalf("trojan without tls should be rejected")
	}
	trojan.Transport.TLS = true
	if err := trojan.Validate(); err != nil {
		t.Fatalf("trojan with tls: err=%v", err)
	}

	vless := Proxy{Protocol: ProtocolVLESS, Server: "example.com", Port: 443, UUID: "u",
		Transport: Transport{TLS: true, Reality: &Reality{}}}
	if err := vless.Validate(); err == nil {
		t.Fatalf("reality without public key should be rejected")
	}
	vless.Transport.Reality.PublicKey = "pk"
	if err := vless.Validate(); err != nil {
		t.Fatalf("reality with public key: err=%v", err)
	}
}
