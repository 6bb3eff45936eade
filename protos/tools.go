//go:build tools

// Package protos pins codegen tool versions in go.mod. Generated code for
// the clinic gRPC surface lands under protos/gen and builds behind the
// protogen tag.
package protos

import (
	_ "google.golang.org/grpc/cmd/protoc-gen-go-grpc"
	_ "google.golang.org/protobuf/cmd/protoc-gen-go"
)
