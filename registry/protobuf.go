package registry

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/mockforge/core/domain/spec"
)

// LoadProtobuf decodes a serialized FileDescriptorProto (not a live gRPC
// server; the pipeline only needs the wire shape of each RPC to
// synthesize/validate responses) and turns each service method into an
// Operation keyed "grpc:<Service>/<Method>".
func LoadProtobuf(id string, raw []byte) (*spec.Spec, error) {
	var fd descriptorpb.FileDescriptorProto
	if err := proto.Unmarshal(raw, &fd); err != nil {
		return nil, fmt.Errorf("registry: decode file descriptor: %w", err)
	}

	s := &spec.Spec{
		ID:       id,
		Kind:     spec.KindProtobuf,
		Name:     fd.GetPackage(),
		Version:  fd.GetSyntax(),
		LoadedAt: time.Now(),
	}

	for _, svc := range fd.GetService() {
		for _, method := range svc.GetMethod() {
			s.Operations = append(s.Operations, spec.Operation{
				ID:     fmt.Sprintf("grpc:%s/%s", svc.GetName(), method.GetName()),
				Method: method.GetName(),
				RequestSchema: map[string]any{
					"protobufType": method.GetInputType(),
				},
				ResponseSchema: map[string]any{
					"protobufType": method.GetOutputType(),
				},
			})
		}
	}
	return s, nil
}
