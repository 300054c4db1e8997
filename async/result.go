package async

import (
	"context"
	"io"
	"reflect"
)

type Result[E any] interface {
	Succeed() (succeed bool)
	Failed() (failed bool)
	Result() (entry E)
	Cause() (err error)
}

func newResult[E any](entry E, cause error) Result[E] {
	return &result[E]{
		entry: entry,
		cause: cause,
	}
}

func newSucceedResult[E any](entry E) Result[E] {
	return &result[E]{
		entry: entry,
		cause: nil,
	}
}

func newFailedResult[E any](cause error) Result[E] {
	return &result[E]{
		cause: cause,
	}
}

type result[E any] struct {
	entry E
	cause error
}

func (ar *result[E]) Succeed() (succeed bool) {
	succeed = ar.cause == nil
	return
}

func (ar *result[E]) Failed() (failed bool) {
	failed = ar.cause != nil
	return
}

func (ar *result[E]) Result() (entry E) {
	entry = ar.entry
	return
}

func (ar *result[E]) Cause() (err error) {
	err = ar.cause
	return
}

type ResultHandler[E any] func(ctx context.Context, entry E, cause error)

func tryCloseResultWhenUnexpectedlyErrorOccur[R any](ar Result[R]) {
	if ar.Succeed() {
		r := ar.Result()
		ri := reflect.ValueOf(r).Interface()
		closer, isCloser := ri.(io.Closer)
		if isCloser {
			_ = closer.Close()
		}
	}
}

type Void struct{}
