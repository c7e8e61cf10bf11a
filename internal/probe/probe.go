// Package probe provides reachability checks for candidate addresses.
package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Prober checks whether a single address is reachable. Probers never return
// errors: any failure to complete the check counts as the address being
// down, which is exactly how the caller must treat it.
type Prober interface {
	Probe(ctx context.Context, address string) (up bool, rtt time.Duration)
}

// NewProber returns the prober for the configured method
func NewProber(method string, timeout time.Duration) (Prober, error) {
	switch method {
	case "icmp":
		return &ICMPProber{Timeout: timeout}, nil
	case "exec", "":
		return &ExecProber{Timeout: timeout}, nil
	case "dns":
		return &DNSProber{Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown probe method: %s", method)
	}
}

// ExecProber shells out to the system ping binary. This is the default
// method because it needs no elevated privileges.
type ExecProber struct {
	Timeout time.Duration

	// Binary overrides the ping executable, used in tests
	Binary string
}

// Probe runs one ping attempt against the address
func (p *ExecProber) Probe(ctx context.Context, address string) (bool, time.Duration) {
	binary := p.Binary
	if binary == "" {
		binary = "ping"
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, binary, "-c", "1", "-W", strconv.Itoa(seconds), address)
	err := cmd.Run()
	return err == nil, time.Since(start)
}

// ICMPProber sends raw ICMP echo requests. Requires CAP_NET_RAW or root.
type ICMPProber struct {
	Timeout time.Duration
}

// Probe sends a single ICMP echo request and waits for the matching reply
func (p *ICMPProber) Probe(ctx context.Context, address string) (bool, time.Duration) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		// Only IPv4 targets are probed over raw ICMP; anything else fails
		// the check rather than erroring.
		return false, 0
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return false, 0
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("failover-controller-probe"),
		},
	}

	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return false, 0
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return false, 0
	}

	start := time.Now()
	if _, err := conn.WriteTo(msgBytes, &net.IPAddr{IP: ip}); err != nil {
		return false, 0
	}

	reply := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(reply)
		if err != nil {
			return false, 0
		}

		replyMsg, err := icmp.ParseMessage(1, reply[:n]) // 1 = ICMP protocol for IPv4
		if err != nil {
			continue
		}
		if replyMsg.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if peer.String() != ip.String() {
			continue
		}

		return true, time.Since(start)
	}
}

// DNSProber checks reachability by sending a DNS query to the address on
// port 53. Useful when the managed addresses are themselves DNS servers:
// the host answering ping but not serving queries should still count as
// down.
type DNSProber struct {
	Timeout time.Duration

	// QueryName is the name asked for; any response at all counts as up
	QueryName string
}

// Probe sends one NS query for the root zone to the target address
func (p *DNSProber) Probe(ctx context.Context, address string) (bool, time.Duration) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	name := p.QueryName
	if name == "" {
		name = "."
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeNS)
	msg.RecursionDesired = false

	client := &dns.Client{Timeout: timeout}
	_, rtt, err := client.ExchangeContext(ctx, msg, net.JoinHostPort(address, "53"))
	if err != nil {
		return false, 0
	}

	return true, rtt
}
