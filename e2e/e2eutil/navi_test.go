// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/snoop/helper/poll"
	"github.com/hashicorp/snoop/testutil"
	"github.com/miekg/dns"
	"github.com/shoenig/test/must"
)

// startDNS serves the given records ("A 10.0.0.1", "CNAME other.") keyed by
// fully qualified name and returns the server address.
func startDNS(t *testing.T, records map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	must.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			name := r.Question[0].Name
			switch v, ok := records[name]; {
			case !ok:
				m.Rcode = dns.RcodeNameError
			case v != "":
				rr, err := dns.NewRR(fmt.Sprintf("%s 60 IN %s", name, v))
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			}
			_ = w.WriteMsg(m)
		}),
	}
	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestResolveHostname(t *testing.T) {
	addr := startDNS(t, map[string]string{
		"web-staging-runnable.runnablecloud.com.":   "A 10.4.0.12",
		"alias-staging-runnable.runnablecloud.com.": "CNAME web-staging-runnable.runnablecloud.com.",
		"empty.runnablecloud.com.":                  "",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ips, err := ResolveHostname(ctx, addr, "web-staging-runnable.runnablecloud.com")
	must.NoError(t, err)
	must.SliceLen(t, 1, ips)
	must.Eq(t, "10.4.0.12", ips[0].String())

	ips, err = ResolveHostname(ctx, addr, "alias-staging-runnable.runnablecloud.com")
	must.NoError(t, err)
	must.Eq(t, "10.4.0.12", ips[0].String())

	_, err = ResolveHostname(ctx, addr, "empty.runnablecloud.com")
	must.ErrorIs(t, err, ErrNoRecords)

	_, err = ResolveHostname(ctx, addr, "missing.runnablecloud.com")
	must.ErrorContains(t, err, "NXDOMAIN")
}

func TestAwaitNavi(t *testing.T) {
	testutil.Parallel(t)
	for _, msg := range []string{
		"Succesfully connected to db at rethinkdb-staging-runnable",
		"Successfully connected to db at rethinkdb-staging-runnable",
	} {
		t.Run(msg[:12], func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) < 3 {
					http.Error(w, "navi: no route", http.StatusBadGateway)
					return
				}
				_, _ = w.Write([]byte(msg))
			}))
			defer srv.Close()
			host := strings.TrimPrefix(srv.URL, "http://")

			body, err := AwaitNavi(context.Background(), host, RepoContainerMatch, poll.Gap(5*time.Millisecond), poll.Timeout(5*time.Second))
			must.NoError(t, err)
			must.Eq(t, msg, body)
			must.Eq(t, int32(3), hits.Load())
		})
	}
}

func TestRepoContainerMatch(t *testing.T) {
	must.True(t, RepoContainerMatch.MatchString("Succesfully connected to db"))
	must.True(t, RepoContainerMatch.MatchString("successfully CONNECTED to the db"))
	must.False(t, RepoContainerMatch.MatchString("Failed to connect to db"))
}

func TestFetchNavi_Status(t *testing.T) {
	testutil.Parallel(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	body, err := FetchNavi(context.Background(), cleanhttp.DefaultClient(), host)
	must.ErrorContains(t, err, "navi returned 404")
	must.StrContains(t, body, "not here")

	_, err = AwaitNavi(context.Background(), host, RepoContainerMatch, poll.Gap(5*time.Millisecond), poll.Timeout(100*time.Millisecond))
	must.ErrorIs(t, err, poll.ErrTimeout)
}
