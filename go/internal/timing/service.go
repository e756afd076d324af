package timing

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/quizpot/go/internal/models"
	"github.com/mcdev12/quizpot/go/internal/rpc"
)

const ServiceName = "quiz.v1.TimingService"

const (
	JoinProcedure         = "/" + ServiceName + "/Join"
	StartProcedure        = "/" + ServiceName + "/Start"
	SubmitAnswerProcedure = "/" + ServiceName + "/SubmitAnswer"
	PauseProcedure        = "/" + ServiceName + "/Pause"
	ResumeProcedure       = "/" + ServiceName + "/Resume"
	StatusProcedure       = "/" + ServiceName + "/Status"
)

// TimingApp defines what the service layer needs from the timing application
type TimingApp interface {
	Join(ctx context.Context, roundID int64, userID, fingerprint string) (*models.Participant, error)
	Start(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error)
	SubmitAnswer(ctx context.Context, req AnswerRequest) (AnswerOutcome, error)
	Pause(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error)
	Resume(ctx context.Context, participantID int64, fingerprint string) (*models.Participant, error)
	Status(ctx context.Context, participantID int64) (*StatusSnapshot, error)
}

type JoinRequest struct {
	RoundID int64  `json:"round_id"`
	UserID  string `json:"user_id"`
}

type ParticipantRequest struct {
	ParticipantID int64 `json:"participant_id"`
}

type SubmitAnswerRequest struct {
	ParticipantID   int64      `json:"participant_id"`
	QuestionIndex   int        `json:"question_index"`
	Answer          string     `json:"answer"`
	ClientTimestamp *time.Time `json:"client_timestamp,omitempty"`
}

type SubmitAnswerResponse struct {
	Outcome AnswerOutcome   `json:"outcome"`
	Status  *StatusSnapshot `json:"status"`
}

type StatusResponse struct {
	Status *StatusSnapshot `json:"status"`
}

// Service exposes the timing app over Connect with a JSON codec.
type Service struct {
	app   TimingApp
	clock clockwork.Clock
}

func NewService(app TimingApp, clock clockwork.Clock) *Service {
	return &Service{app: app, clock: clock}
}

// Handler returns the path prefix and handler to mount on a mux.
func (s *Service) Handler() (string, http.Handler) {
	opts := rpc.HandlerOptions()
	mux := http.NewServeMux()
	mux.Handle(JoinProcedure, connect.NewUnaryHandler(JoinProcedure, s.Join, opts...))
	mux.Handle(StartProcedure, connect.NewUnaryHandler(StartProcedure, s.Start, opts...))
	mux.Handle(SubmitAnswerProcedure, connect.NewUnaryHandler(SubmitAnswerProcedure, s.SubmitAnswer, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, s.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, s.Resume, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opts...))
	return "/" + ServiceName + "/", mux
}

func fingerprintOf[T any](req *connect.Request[T]) string {
	return FingerprintFromRequest(req.Header(), req.Peer().Addr)
}

func (s *Service) Join(ctx context.Context, req *connect.Request[JoinRequest]) (*connect.Response[StatusResponse], error) {
	p, err := s.app.Join(ctx, req.Msg.RoundID, req.Msg.UserID, fingerprintOf(req))
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return s.statusResponse(ctx, p.ID)
}

func (s *Service) Start(ctx context.Context, req *connect.Request[ParticipantRequest]) (*connect.Response[StatusResponse], error) {
	p, err := s.app.Start(ctx, req.Msg.ParticipantID, fingerprintOf(req))
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return s.statusResponse(ctx, p.ID)
}

func (s *Service) SubmitAnswer(ctx context.Context, req *connect.Request[SubmitAnswerRequest]) (*connect.Response[SubmitAnswerResponse], error) {
	received := s.clock.Now()
	outcome, err := s.app.SubmitAnswer(ctx, AnswerRequest{
		ParticipantID:   req.Msg.ParticipantID,
		Fingerprint:     fingerprintOf(req),
		QuestionIndex:   req.Msg.QuestionIndex,
		Answer:          req.Msg.Answer,
		ServerReceived:  received,
		ClientTimestamp: req.Msg.ClientTimestamp,
	})
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	status, err := s.app.Status(ctx, req.Msg.ParticipantID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&SubmitAnswerResponse{Outcome: outcome, Status: status}), nil
}

func (s *Service) Pause(ctx context.Context, req *connect.Request[ParticipantRequest]) (*connect.Response[StatusResponse], error) {
	if _, err := s.app.Pause(ctx, req.Msg.ParticipantID, fingerprintOf(req)); err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return s.statusResponse(ctx, req.Msg.ParticipantID)
}

func (s *Service) Resume(ctx context.Context, req *connect.Request[ParticipantRequest]) (*connect.Response[StatusResponse], error) {
	if _, err := s.app.Resume(ctx, req.Msg.ParticipantID, fingerprintOf(req)); err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return s.statusResponse(ctx, req.Msg.ParticipantID)
}

func (s *Service) Status(ctx context.Context, req *connect.Request[ParticipantRequest]) (*connect.Response[StatusResponse], error) {
	return s.statusResponse(ctx, req.Msg.ParticipantID)
}

func (s *Service) statusResponse(ctx context.Context, participantID int64) (*connect.Response[StatusResponse], error) {
	status, err := s.app.Status(ctx, participantID)
	if err != nil {
		return nil, rpc.ToConnectError(err)
	}
	return connect.NewResponse(&StatusResponse{Status: status}), nil
}
