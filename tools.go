//go:build tools

package controlplane

// This file keeps module dependencies tracked in go.mod through blank
// imports. Application code imports most of them as well; wasmtime-go and
// protobuf are imported only here.
//
// See: https://github.com/golang/go/wiki/Modules#how-can-i-track-tool-dependencies-for-a-module

import (
	_ "github.com/bytecodealliance/wasmtime-go/v29"
	_ "github.com/cockroachdb/pebble"
	_ "github.com/libp2p/go-libp2p"
	_ "github.com/pelletier/go-toml/v2"
	_ "github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/zap"
	_ "google.golang.org/grpc"
	_ "google.golang.org/protobuf/proto"
)
