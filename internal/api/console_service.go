package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/model"
	"github.com/matheus3301/wppconsole/internal/rest"
	intsync "github.com/matheus3301/wppconsole/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Controller is the part of the sync controller the service drives.
type Controller interface {
	SelectTenant(ctx context.Context, phoneID string) error
	Tenant() string
	LoadMoreConversations(ctx context.Context) (int, error)
	SearchNow(ctx context.Context, query string) error
	Query() string
	SetRetargetOnly(ctx context.Context, only bool) error
	Conversations() []model.Conversation
	ArchivedConversations() []model.Conversation
	ArchivedCount() int
	SelectConversation(ctx context.Context, conversationID string) error
	ActiveConversation() string
	Messages() []model.Message
	LoadOlderMessages(ctx context.Context) (int, error)
	CloseConversation()
	Send(ctx context.Context, conversationID, text, replyTo string) (model.MessageID, error)
	SendTemplate(ctx context.Context, conversationID, template, language string, params map[string]string) (model.MessageID, error)
	SendMedia(ctx context.Context, conversationID string, typ model.MessageType, content model.Content) (model.MessageID, error)
	SendReaction(ctx context.Context, conversationID, messageID, emoji string) error
	Resend(ctx context.Context, tempID string) (model.MessageID, error)
	Archive(ctx context.Context, conversationID string) error
	Unarchive(ctx context.Context, conversationID string) error
	CreateConversation(ctx context.Context, participant, name string) (model.Conversation, error)
	Unread() bus.Unread
}

// ConsoleService implements the console control service.
type ConsoleService struct {
	ctrl   Controller
	logger *zap.Logger
}

// NewConsoleService creates a control service over ctrl.
func NewConsoleService(ctrl Controller, logger *zap.Logger) *ConsoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleService{ctrl: ctrl, logger: logger}
}

// Register adds the service to a gRPC server.
func (s *ConsoleService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(serviceDesc(), s)
}

func (s *ConsoleService) SelectTenant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	phoneID, err := required(req, "phoneId")
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.SelectTenant(ctx, phoneID); err != nil {
		return nil, toStatus("select tenant", err)
	}
	return s.listing(false)
}

func (s *ConsoleService) ListConversations(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.listing(boolArg(req, "archived"))
}

func (s *ConsoleService) LoadMoreConversations(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.ctrl.LoadMoreConversations(ctx)
	if err != nil {
		return nil, toStatus("load more conversations", err)
	}
	return newStruct(map[string]any{"loaded": n})
}

func (s *ConsoleService) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ctrl.SearchNow(ctx, stringArg(req, "query")); err != nil {
		return nil, toStatus("search", err)
	}
	return s.listing(false)
}

func (s *ConsoleService) SetRetargetOnly(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ctrl.SetRetargetOnly(ctx, boolArg(req, "only")); err != nil {
		return nil, toStatus("set retarget filter", err)
	}
	return s.listing(false)
}

func (s *ConsoleService) OpenConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversationId")
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.SelectConversation(ctx, id); err != nil {
		return nil, toStatus("open conversation", err)
	}
	return s.window(0)
}

func (s *ConsoleService) LoadOlderMessages(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.ctrl.ActiveConversation() == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "no conversation open")
	}
	n, err := s.ctrl.LoadOlderMessages(ctx)
	if err != nil {
		return nil, toStatus("load older messages", err)
	}
	return s.window(n)
}

func (s *ConsoleService) CloseConversation(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.ctrl.CloseConversation()
	return &structpb.Struct{}, nil
}

func (s *ConsoleService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversationId")
	if err != nil {
		return nil, err
	}
	text, err := required(req, "text")
	if err != nil {
		return nil, err
	}
	return s.sent(s.ctrl.Send(ctx, id, text, stringArg(req, "replyTo")))
}

func (s *ConsoleService) SendTemplate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversationId")
	if err != nil {
		return nil, err
	}
	template, err := required(req, "template")
	if err != nil {
		return nil, err
	}
	var params map[string]string
	if p := req.GetFields()["params"].GetStructValue(); p != nil {
		params = make(map[string]string, len(p.GetFields()))
		for k, v := range p.GetFields() {
			params[k] = v.GetStringValue()
		}
	}
	return s.sent(s.ctrl.SendTemplate(ctx, id, template, stringArg(req, "language"), params))
}

func (s *ConsoleService) SendMedia(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversationId")
	if err != nil {
		return nil, err
	}
	typ, err := required(req, "type")
	if err != nil {
		return nil, err
	}
	content := model.Content{
		MediaID:  stringArg(req, "mediaId"),
		MediaURL: stringArg(req, "mediaUrl"),
		Caption:  stringArg(req, "caption"),
		MimeType: stringArg(req, "mimeType"),
		FileName: stringArg(req, "fileName"),
	}
	return s.sent(s.ctrl.SendMedia(ctx, id, model.MessageType(typ), content))
}

func (s *ConsoleService) React(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversationId")
	if err != nil {
		return nil, err
	}
	messageID, err := required(req, "messageId")
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.SendReaction(ctx, id, messageID, stringArg(req, "emoji")); err != nil {
		return nil, toStatus("react", err)
	}
	return &structpb.Struct{}, nil
}

func (s *ConsoleService) Resend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tempID, err := required(req, "tempId")
	if err != nil {
		return nil, err
	}
	return s.sent(s.ctrl.Resend(ctx, tempID))
}

func (s *ConsoleService) Archive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversationId")
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.Archive(ctx, id); err != nil {
		return nil, toStatus("archive", err)
	}
	return s.unread()
}

func (s *ConsoleService) Unarchive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "conversationId")
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.Unarchive(ctx, id); err != nil {
		return nil, toStatus("unarchive", err)
	}
	return s.unread()
}

func (s *ConsoleService) CreateConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	participant, err := required(req, "participant")
	if err != nil {
		return nil, err
	}
	conv, err := s.ctrl.CreateConversation(ctx, participant, stringArg(req, "name"))
	if err != nil {
		return nil, toStatus("create conversation", err)
	}
	return newStruct(map[string]any{"conversation": conversationToMap(conv)})
}

func (s *ConsoleService) Unread(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.unread()
}

func (s *ConsoleService) listing(archived bool) (*structpb.Struct, error) {
	convs := s.ctrl.Conversations()
	if archived {
		convs = s.ctrl.ArchivedConversations()
	}
	items := make([]any, 0, len(convs))
	for _, c := range convs {
		items = append(items, conversationToMap(c))
	}
	u := s.ctrl.Unread()
	return newStruct(map[string]any{
		"tenant":        s.ctrl.Tenant(),
		"query":         s.ctrl.Query(),
		"archivedCount": s.ctrl.ArchivedCount(),
		"unread":        unreadToMap(u),
		"conversations": items,
	})
}

func (s *ConsoleService) window(loaded int) (*structpb.Struct, error) {
	msgs := s.ctrl.Messages()
	items := make([]any, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageToMap(m))
	}
	return newStruct(map[string]any{
		"conversationId": s.ctrl.ActiveConversation(),
		"loaded":         loaded,
		"messages":       items,
	})
}

func (s *ConsoleService) unread() (*structpb.Struct, error) {
	return newStruct(unreadToMap(s.ctrl.Unread()))
}

// sent reports a send outcome. A rejected send is not an RPC error: the
// message stays local as failed and the caller gets its temp id to resend.
func (s *ConsoleService) sent(id model.MessageID, err error) (*structpb.Struct, error) {
	var failure *intsync.SendFailure
	switch {
	case errors.As(err, &failure):
		s.logger.Warn("send rejected", zap.String("temp_id", failure.TempID), zap.Error(failure.Err))
		return newStruct(map[string]any{
			"tempId": failure.TempID,
			"failed": true,
			"error":  failure.Err.Error(),
		})
	case err != nil:
		return nil, toStatus("send", err)
	}
	return newStruct(map[string]any{
		"id":      id.Key(),
		"tempId":  id.TempID(),
		"pending": id.IsPending(),
	})
}

func toStatus(op string, err error) error {
	var ne *rest.NetworkError
	switch {
	case errors.Is(err, model.ErrUnknownConversation):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	case errors.As(err, &ne):
		return grpcstatus.Errorf(codes.Unavailable, "%s: %v", op, err)
	}
	return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
}

func required(req *structpb.Struct, key string) (string, error) {
	v := stringArg(req, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

func stringArg(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func boolArg(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func unreadToMap(u bus.Unread) map[string]any {
	return map[string]any{
		"main":     u.Main,
		"archived": u.ArchivedIndicator,
	}
}

func conversationToMap(c model.Conversation) map[string]any {
	primary, secondary := model.DisplayName(c)
	return map[string]any{
		"id":               c.ID,
		"phoneId":          c.TenantPhoneID,
		"participantPhone": c.ParticipantPhone,
		"name":             primary,
		"secondaryName":    secondary,
		"type":             string(c.Type),
		"unreadCount":      c.UnreadCount,
		"archived":         c.ArchivedByUser,
		"lastMessage": map[string]any{
			"id":        c.LastMessage.MessageID,
			"content":   c.LastMessage.Content,
			"timestamp": formatTime(c.LastMessage.Timestamp),
			"direction": string(c.LastMessage.Direction),
			"status":    c.LastMessage.Status.String(),
		},
	}
}

func messageToMap(m model.Message) map[string]any {
	reactions := make([]any, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		reactions = append(reactions, map[string]any{
			"emoji":     r.Emoji,
			"direction": string(r.Direction),
		})
	}
	return map[string]any{
		"id":        m.ID.Key(),
		"pending":   m.ID.IsPending(),
		"direction": string(m.Direction),
		"type":      string(m.Type),
		"preview":   m.Preview(),
		"status":    m.Status.String(),
		"timestamp": formatTime(m.Timestamp),
		"replyTo":   m.ReplyTo,
		"reactions": reactions,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
