// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/grafana/regexp"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/helper/poll"
	"github.com/miekg/dns"
)

// maxCNAMEHops bounds CNAME chains followed by ResolveHostname.
const maxCNAMEHops = 8

// ErrNoRecords is returned when a hostname has no A records.
var ErrNoRecords = errors.New("no A records")

// ResolveHostname looks up the IPv4 addresses of host on the DNS server at
// server (host:port). An empty server uses the first nameserver of
// /etc/resolv.conf.
func ResolveHostname(ctx context.Context, server, host string) ([]net.IP, error) {
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("failed to read resolv.conf: %w", err)
		}
		if len(conf.Servers) == 0 {
			return nil, errors.New("no nameservers configured")
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}

	c := new(dns.Client)
	name := dns.Fqdn(host)
	for hop := 0; hop < maxCNAMEHops; hop++ {
		m := new(dns.Msg)
		m.SetQuestion(name, dns.TypeA)
		m.RecursionDesired = true

		r, _, err := c.ExchangeContext(ctx, m, server)
		if err != nil {
			return nil, fmt.Errorf("dns query for %s failed: %w", name, err)
		}
		if r.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("dns query for %s: %s", name, dns.RcodeToString[r.Rcode])
		}

		var ips []net.IP
		var cname string
		for _, rr := range r.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.CNAME:
				cname = rec.Target
			}
		}
		if len(ips) > 0 {
			return ips, nil
		}
		if cname == "" {
			return nil, fmt.Errorf("%s: %w", host, ErrNoRecords)
		}
		name = cname
	}
	return nil, fmt.Errorf("%s: too many CNAME hops", host)
}

// FetchNavi requests the container behind hostname through navi and
// returns the response body.
func FetchNavi(ctx context.Context, client *http.Client, hostname string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+hostname, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return string(body), fmt.Errorf("navi returned %d for %s", resp.StatusCode, hostname)
	}
	return string(body), nil
}

// AwaitNavi polls hostname through navi until the body matches re. Non-200
// responses and connection errors count as not ready yet.
func AwaitNavi(ctx context.Context, hostname string, re *regexp.Regexp, opts ...poll.Option) (string, error) {
	client := cleanhttp.DefaultClient()
	var last string
	err := poll.UntilFunc(ctx, func(ctx context.Context) (bool, error) {
		body, err := FetchNavi(ctx, client, hostname)
		last = body
		return err == nil && re.MatchString(body), nil
	}, opts...)
	return last, err
}

// CheckNavi resolves ref's container hostname and fails the test unless a
// request to it through navi returns a body matching re.
func CheckNavi(t testing.TB, ctx context.Context, f *Fixtures, ref *api.InstanceRef, re *regexp.Regexp) {
	t.Helper()
	hostname := ref.ContainerHostname()

	ips, err := ResolveHostname(ctx, f.Opts.DNSServer, hostname)
	if err != nil {
		t.Fatalf("failed to resolve %s: %v", hostname, err)
	}
	f.Logger.Debug("resolved navi hostname", "hostname", hostname, "ips", ips)

	body, err := AwaitNavi(ctx, hostname, re, poll.Timeout(f.Opts.Timeout), poll.Logger(f.Logger))
	if err != nil {
		t.Fatalf("navi response from %s never matched %s: %v\nlast body:\n%s", hostname, re, err, body)
	}
}
