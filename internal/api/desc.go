// Package api exposes the sync controller over the console's gRPC socket.
//
// Requests and responses are google.protobuf.Struct values, so the service
// needs no generated code and any gRPC client can call it.
package api

import (
	"context"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wppconsole.v1.Console"

// FullMethod returns the gRPC method path for name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type handlerFunc func(s *ConsoleService, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

var handlers = map[string]handlerFunc{
	"SelectTenant":          (*ConsoleService).SelectTenant,
	"ListConversations":     (*ConsoleService).ListConversations,
	"LoadMoreConversations": (*ConsoleService).LoadMoreConversations,
	"Search":                (*ConsoleService).Search,
	"SetRetargetOnly":       (*ConsoleService).SetRetargetOnly,
	"OpenConversation":      (*ConsoleService).OpenConversation,
	"LoadOlderMessages":     (*ConsoleService).LoadOlderMessages,
	"CloseConversation":     (*ConsoleService).CloseConversation,
	"Send":                  (*ConsoleService).Send,
	"SendTemplate":          (*ConsoleService).SendTemplate,
	"SendMedia":             (*ConsoleService).SendMedia,
	"React":                 (*ConsoleService).React,
	"Resend":                (*ConsoleService).Resend,
	"Archive":               (*ConsoleService).Archive,
	"Unarchive":             (*ConsoleService).Unarchive,
	"CreateConversation":    (*ConsoleService).CreateConversation,
	"Unread":                (*ConsoleService).Unread,
}

// Methods lists the unary method names, sorted.
func Methods() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "wppconsole/v1/console",
	}
	for _, name := range Methods() {
		desc.Methods = append(desc.Methods, unary(name, handlers[name]))
	}
	return desc
}

func unary(name string, h handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(*ConsoleService)
			if interceptor == nil {
				return h(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return h(svc, ctx, req.(*structpb.Struct))
			})
		},
	}
}
