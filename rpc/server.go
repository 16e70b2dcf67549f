package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dnldd/candlebot/bot"
	"github.com/dnldd/candlebot/shared"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// tokenHeader is the header carrying the access token.
	tokenHeader = "x-access-token"
	// writeTimeout is the deadline of a single frame write.
	writeTimeout = 10 * time.Second
	// shutdownTimeout is the grace period for in-flight http requests on shutdown.
	shutdownTimeout = 5 * time.Second
)

// errorBody is the wire representation of a failed command.
type errorBody struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Status  int    `json:"status"`
}

// response answers a command frame.
type response struct {
	ID     int64      `json:"id"`
	Result any        `json:"result"`
	Error  *errorBody `json:"error,omitempty"`
}

// eventFrame relays a bot event.
type eventFrame struct {
	Event string `json:"event"`
	Bot   string `json:"bot"`
	Data  any    `json:"data"`
}

// ServerConfig represents the websocket server configuration.
type ServerConfig struct {
	// Address is the listen address.
	Address string
	// Version is the api version the endpoint is served under.
	Version string
	// Dispatcher executes client commands.
	Dispatcher *Dispatcher
	// Hub is the subscriber hub clients register with.
	Hub *bot.Hub
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ServerConfig) Validate() error {
	var errs error

	if cfg.Address == "" {
		errs = errors.Join(errs, fmt.Errorf("address cannot be an empty string"))
	}
	if cfg.Version == "" {
		errs = errors.Join(errs, fmt.Errorf("version cannot be an empty string"))
	}
	if cfg.Dispatcher == nil {
		errs = errors.Join(errs, fmt.Errorf("dispatcher cannot be nil"))
	}
	if cfg.Hub == nil {
		errs = errors.Join(errs, fmt.Errorf("hub cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Server serves the bot commands and events over websockets.
type Server struct {
	cfg      *ServerConfig
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewServer initializes a new websocket server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}

	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the http handler of the server. Bot runs started through it live
// until the provided context is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/"+s.cfg.Version, func(w http.ResponseWriter, r *http.Request) {
		s.handleSocket(ctx, w, r)
	})

	return router
}

// Run serves clients until the provided context is done.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(ctx),
	}

	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info().Msgf("serving /%s on %s", s.cfg.Version, s.cfg.Address)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving websockets: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.cfg.Logger.Error().Err(err).Msg("unable to shut down http server")
	}
	s.wg.Wait()

	return nil
}

// session is a connected client.
type session struct {
	id       string
	conn     *websocket.Conn
	sub      *bot.Subscriber
	writeMtx sync.Mutex
	logger   zerolog.Logger
}

// write sends a frame to the client.
func (s *session) write(frame any) error {
	s.writeMtx.Lock()
	defer s.writeMtx.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return s.conn.WriteJSON(frame)
}

// relay forwards bot events to the client until the provided context is done.
func (s *session) relay(ctx context.Context) {
	for {
		event, err := s.sub.Next(ctx)
		if err != nil {
			return
		}

		frame := eventFrame{
			Event: ":" + string(event.Kind),
			Bot:   event.Bot,
			Data:  event.Data(),
		}
		if err := s.write(frame); err != nil {
			s.logger.Error().Err(err).Msgf("unable to relay %s event", event.Kind)
		}
	}
}

// token returns the access token of the provided request.
func token(r *http.Request) string {
	if token := r.Header.Get(tokenHeader); token != "" {
		return token
	}

	return r.URL.Query().Get("token")
}

// handleSocket serves one client connection.
func (s *Server) handleSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	accessToken := token(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Error().Err(err).Msg("unable to upgrade connection")
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	sess := &session{
		id:     id,
		conn:   conn,
		sub:    bot.NewSubscriber(id),
		logger: s.cfg.Logger.With().Str("client", id).Logger(),
	}
	if err := s.cfg.Hub.Register(sess.sub); err != nil {
		sess.logger.Error().Err(err).Msg("unable to register client")
		return
	}
	defer s.cfg.Hub.Unregister(id)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.relay(sessCtx)
	}()

	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	sess.logger.Info().Msg("client connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Error().Err(err).Msg("unable to read frame")
			}
			sess.logger.Info().Msg("client disconnected")
			return
		}

		if !gjson.ValidBytes(data) {
			err := fmt.Errorf("%w: malformed frame", shared.ErrValidation)
			if werr := sess.write(failure(0, err)); werr != nil {
				sess.logger.Error().Err(werr).Msg("unable to write response")
			}
			continue
		}

		frame := gjson.ParseBytes(data)
		frameID := frame.Get("id").Int()
		req := &Request{
			Command:  frame.Get("cmd").String(),
			Args:     frame.Get("args"),
			ClientID: id,
			Token:    accessToken,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			res, err := s.cfg.Dispatcher.Dispatch(ctx, req)
			frame := response{ID: frameID, Result: res}
			if err != nil {
				frame = failure(frameID, err)
			}

			if err := sess.write(frame); err != nil {
				sess.logger.Error().Err(err).Msgf("unable to answer %s", req.Command)
			}
		}()
	}
}

// failure builds the error response of a command.
func failure(id int64, err error) response {
	return response{
		ID: id,
		Error: &errorBody{
			Message: err.Error(),
			Name:    shared.ErrorName(err),
			Status:  shared.StatusCode(err),
		},
	}
}
