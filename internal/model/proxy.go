package model

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

type Protocol string

const (
	ProtocolVMess        Protocol = "vmess"
	ProtocolVLESS        Protocol = "vless"
	ProtocolShadowsocks  Protocol = "ss"
	ProtocolTrojan       Protocol = "trojan"
	ProtocolShadowsocksR Protocol = "ssr"
)

// Valid reports whether p is one of the supported wire protocols.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolVMess, ProtocolVLESS, ProtocolShadowsocks, ProtocolTrojan, ProtocolShadowsocksR:
		return true
	default:
		return false
	}
}

type Network string

const (
	NetworkTCP Network = "tcp"
	NetworkWS  Network = "ws"
)

type KV struct {
	Key   string
	Value string
}

// Transport holds the stream settings shared by vmess/vless/trojan.
type Transport struct {
	Network Network // "" is treated as tcp

	// websocket only
	Path string
	Host string // Host header

	TLS            bool
	SNI            string
	SkipCertVerify bool

	// ClientFingerprint is the uTLS hello to mimic ("chrome", ...).
	ClientFingerprint string
	// Reality is set for vless REALITY; TLS is true as well.
	Reality *Reality
}

type Reality struct {
	PublicKey string
	ShortID   string
}

// Proxy is the canonical node record used by every pipeline stage.
type Proxy struct {
	// Name is a display label. It is not part of identity and is only made
	// unique by the ranker right before serialization.
	Name string

	Protocol Protocol
	Server   string
	Port     int

	// vmess / vless
	UUID    string
	AlterID int
	Flow    string // vless only, e.g. xtls-rprx-vision

	// ss / ssr / trojan (trojan uses Password only)
	Cipher   string
	Password string

	// ssr only
	SSRProtocol   string
	ProtocolParam string
	Obfs          string
	ObfsParam     string

	// ss SIP003 plugin; PluginOpts keeps order to stay deterministic.
	PluginName string
	PluginOpts []KV

	UDP       bool
	Transport Transport

	// Extra keeps structured-form keys this model does not understand so a
	// record accepted verbatim is written back verbatim.
	Extra map[string]any
}

// Key returns host:port, the key used by the quality history store.
func (p Proxy) Key() string {
	return net.JoinHostPort(p.Server, strconv.Itoa(p.Port))
}

// SNIOrHost returns the TLS server name when set, else the server address.
func (p Proxy) SNIOrHost() string {
	if p.Transport.SNI != "" {
		return p.Transport.SNI
	}
	if p.Transport.Host != "" {
		return p.Transport.Host
	}
	return p.Server
}

// Fingerprint is a stable hash of every identity-relevant field. Name, UDP,
// SkipCertVerify and Extra are excluded.
func (p Proxy) Fingerprint() string {
	var b strings.Builder
	b.WriteString(string(p.Protocol))
	b.WriteByte('\n')
	b.WriteString(strings.ToLower(p.Server))
	b.WriteByte('\n')
	b.WriteString(strconv.Itoa(p.Port))
	b.WriteByte('\n')

	switch p.Protocol {
	case ProtocolVMess, ProtocolVLESS:
		b.WriteString(strings.ToLower(p.UUID))
		b.WriteByte('\n')
		b.WriteString(strconv.Itoa(p.AlterID))
		if p.Flow != "" {
			b.WriteString("\nflow=" + p.Flow)
		}
	case ProtocolShadowsocks:
		b.WriteString(strings.ToLower(p.Cipher))
		b.WriteByte('\n')
		b.WriteString(p.Password)
		b.WriteByte('\n')
		name, opts := CanonicalPlugin(p.PluginName, p.PluginOpts)
		b.WriteString(name)
		for _, kv := range opts {
			b.WriteByte(';')
			b.WriteString(kv.Key)
			b.WriteByte('=')
			b.WriteString(kv.Value)
		}
	case ProtocolShadowsocksR:
		b.WriteString(strings.ToLower(p.Cipher))
		b.WriteByte('\n')
		b.WriteString(p.Password)
		b.WriteByte('\n')
		b.WriteString(p.SSRProtocol + "/" + p.ProtocolParam + "/" + p.Obfs + "/" + p.ObfsParam)
	case ProtocolTrojan:
		b.WriteString(p.Password)
	}
	b.WriteByte('\n')

	t := p.Transport
	network := t.Network
	if network == "" {
		network = NetworkTCP
	}
	b.WriteString(string(network))
	b.WriteByte('\n')
	b.WriteString(t.Path)
	b.WriteByte('\n')
	b.WriteString(t.Host)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatBool(t.TLS))
	b.WriteByte('\n')
	b.WriteString(t.SNI)
	if t.Reality != nil {
		b.WriteString("\nreality=" + t.Reality.PublicKey + "/" + t.Reality.ShortID)
	}

	h1, h2 := murmur3.Sum128([]byte(b.String()))
	var sum [16]byte
	for i := 0; i < 8; i++ {
		sum[i] = byte(h1 >> (56 - 8*i))
		sum[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(sum[:])
}

// Validate checks the fields every protocol needs. It does not touch Name.
func (p Proxy) Validate() error {
	if !p.Protocol.Valid() {
		return fmt.Errorf("unsupported protocol %q", p.Protocol)
	}
	if err := ValidateHost(p.Server); err != nil {
		return err
	}
	if p.Port < 1 || p.Port > 65535 {
		return errors.New("port out of range")
	}
	switch p.Protocol {
	case ProtocolVMess, ProtocolVLESS:
		if strings.TrimSpace(p.UUID) == "" {
			return errors.New("empty uuid")
		}
	case ProtocolShadowsocks, ProtocolShadowsocksR:
		if strings.TrimSpace(p.Cipher) == "" || p.Password == "" {
			return errors.New("empty cipher or password")
		}
	case ProtocolTrojan:
		if p.Password == "" {
			return errors.New("empty password")
		}
		if !p.Transport.TLS {
			return errors.New("trojan requires tls")
		}
	}
	if r := p.Transport.Reality; r != nil {
		if p.Protocol != ProtocolVLESS {
			return errors.New("reality is only supported for vless")
		}
		if !p.Transport.TLS || strings.TrimSpace(r.PublicKey) == "" {
			return errors.New("reality requires tls and a public key")
		}
	}
	switch p.Transport.Network {
	case "", NetworkTCP, NetworkWS:
	default:
		return fmt.Errorf("unsupported network %q", p.Transport.Network)
	}
	return nil
}

// ValidateHost rejects empty, loopback and wildcard hosts.
func ValidateHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return errors.New("empty host")
	}
	if strings.ContainsAny(host, "*/ \r\n\x00") {
		return errors.New("host contains invalid characters")
	}
	if strings.EqualFold(host, "localhost") {
		return errors.New("loopback host")
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if addr.IsLoopback() {
			return errors.New("loopback host")
		}
		if addr.IsUnspecified() {
			return errors.New("wildcard host")
		}
	}
	return nil
}

// CanonicalPlugin folds SIP003 spellings of the same plugin setup into one
// form: simple-obfs is obfs-local, a bare flag such as "tls" is "tls=true",
// and options are sorted by key. The input slice is not modified.
func CanonicalPlugin(name string, opts []KV) (string, []KV) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", nil
	}
	if name == "simple-obfs" {
		name = "obfs-local"
	}
	out := make([]KV, 0, len(opts))
	for _, kv := range opts {
		k, v := strings.TrimSpace(kv.Key), strings.TrimSpace(kv.Value)
		if k == "" {
			continue
		}
		if v == "" {
			v = "true"
		}
		out = append(out, KV{Key: k, Value: v})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return name, out
}
