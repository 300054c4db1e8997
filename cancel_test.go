package fluxio_test

import (
	"testing"

	"github.com/brickworks/fluxio"
)

func TestCancelTokenZeroValueNeverFires(t *testing.T) {
	var tok fluxio.CancelToken
	if tok.StopRequested() {
		t.Error("zero-value token must never report stop requested")
	}
}

func TestCancelSourcePropagatesToToken(t *testing.T) {
	var src fluxio.CancelSource
	tok := src.Token()
	if tok.StopRequested() {
		t.Fatal("token fired before RequestStop")
	}
	src.RequestStop()
	if !tok.StopRequested() {
		t.Fatal("token did not observe RequestStop")
	}
}

func TestCancelSourceIsIdempotent(t *testing.T) {
	var src fluxio.CancelSource
	src.RequestStop()
	src.RequestStop()
	if !src.Token().StopRequested() {
		t.Fatal("expected stop requested after repeated RequestStop")
	}
}
