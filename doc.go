// Package fluxio is a Linux async networking runtime: a single-loop
// scheduler (epoll or io_uring) driving Task/Future-based accept,
// connect, read, write, sleep, and timeout operations over TCP.
package fluxio
