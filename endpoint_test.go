package fluxio_test

import (
	"testing"

	"github.com/brickworks/fluxio"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := fluxio.ParseEndpoint("127.0.0.1:9000")
	if err != nil {
		t.Fatal(err)
	}
	if got := ep.String(); got != "127.0.0.1:9000" {
		t.Errorf("got %q", got)
	}
}

func TestParseEndpointRejectsIPv6(t *testing.T) {
	if _, err := fluxio.ParseEndpoint("[::1]:9000"); err == nil {
		t.Error("expected an error for an IPv6 literal")
	}
}

func TestParseEndpointRejectsMissingPort(t *testing.T) {
	if _, err := fluxio.ParseEndpoint("127.0.0.1"); err == nil {
		t.Error("expected an error for a missing port")
	}
}

func TestLoopbackAndAnyEndpoint(t *testing.T) {
	if got := fluxio.LoopbackEndpoint(80).String(); got != "127.0.0.1:80" {
		t.Errorf("got %q", got)
	}
	if got := fluxio.AnyEndpoint(80).String(); got != "0.0.0.0:80" {
		t.Errorf("got %q", got)
	}
}
