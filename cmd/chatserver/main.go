package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/veil/chat-core/internal/conversation"
	"github.com/veil/chat-core/internal/delivery"
	"github.com/veil/chat-core/internal/disclosure"
	"github.com/veil/chat-core/internal/httpapi"
	"github.com/veil/chat-core/internal/matchtimer"
	"github.com/veil/chat-core/internal/message"
	"github.com/veil/chat-core/internal/messaging"
	"github.com/veil/chat-core/internal/metrics"
	"github.com/veil/chat-core/internal/presence"
	"github.com/veil/chat-core/internal/profile"
	"github.com/veil/chat-core/internal/protocol"
	"github.com/veil/chat-core/internal/ratelimit"
	"github.com/veil/chat-core/internal/session"
	"github.com/veil/chat-core/internal/store"
	"github.com/veil/chat-core/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	apiAddr := ":8081"
	if v := os.Getenv("API_ADDR"); v != "" {
		apiAddr = v
	}
	internalAddr := ":8082"
	if v := os.Getenv("INTERNAL_ADDR"); v != "" {
		internalAddr = v
	}
	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	// --- PostgreSQL ---
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "postgres://localhost:5432/chatcore?sslmode=disable"
	}
	db, err := store.Open(databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "chat-1"
	}
	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- Core services ---
	convStore := conversation.NewStore(db)
	msgStore := message.NewStore(db)
	profileStore := profile.NewStore(db)
	disclosureStore := disclosure.NewStore(db)

	registry := presence.NewRegistry()
	timer := matchtimer.NewTimer(convStore)
	engine := disclosure.NewEngine(disclosureStore, convStore, profileStore)
	pipeline := delivery.NewPipeline(convStore, msgStore, timer, engine, registry, natsClient)

	sweepInterval := matchtimer.DefaultSweepInterval
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			sweepInterval = d
		}
	}
	sweepBatch := matchtimer.DefaultSweepBatch
	if v := os.Getenv("SWEEP_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sweepBatch = n
		}
	}
	sweeper := matchtimer.NewSweeper(timer, sweepInterval, sweepBatch)

	log.Printf("chat-core server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  api_addr:        %s", apiAddr)
	log.Printf("  internal_addr:   %s", internalAddr)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  sweep:           every %s, batch %d", sweepInterval, sweepBatch)

	// Session/token validation happens upstream (gateway); it forwards the
	// resolved identity. Browser WebSocket clients cannot set headers on
	// the upgrade request, so the query parameter is accepted there too.
	authenticate := func(r *http.Request) (string, error) {
		if uid := r.Header.Get("X-User-ID"); uid != "" {
			return uid, nil
		}
		if uid := r.URL.Query().Get("user_id"); uid != "" {
			return uid, nil
		}
		return "", errors.New("no identity on request")
	}

	// The upgrade path additionally throttles connection attempts; REST
	// requests are throttled per operation instead.
	wsAuthenticate := func(r *http.Request) (string, error) {
		userID, err := authenticate(r)
		if err != nil {
			return "", err
		}
		if !limiter.Allow(r.Context(), ratelimit.RuleConnect, userID) {
			return "", errors.New("connection rate limit exceeded")
		}
		return userID, nil
	}

	// Declare server early so closures can capture it.
	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join_conversation — subscribe to the conversation's typing relay
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinConversation, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinConversationMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		conv, err := convStore.Get(ctx, joinMsg.ConversationID)
		if err != nil || !conv.IsParticipant(conn.UserID) {
			dispatcher.SendError(conn, "authorization", "not a participant of this conversation")
			return
		}

		localUser := conn.UserID
		localConn := conn.ID
		err = natsClient.SubscribeTyping(conv.ID, localConn, func(data []byte) {
			var ev protocol.UserTypingMsg
			if err := json.Unmarshal(data, &ev); err != nil {
				return
			}
			if ev.UserID == localUser {
				return // don't echo typing back to its author
			}
			_ = server.SendMessage(localConn, data)
		})
		if err != nil {
			log.Printf("[ws-handler] typing subscribe conv=%s conn=%s: %v", conv.ID, localConn, err)
		}
	})

	// -----------------------------------------------------------------------
	// leave_conversation — drop the typing relay subscription
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveConversation, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveConversationMsg)
		if !ok {
			return
		}
		_ = natsClient.UnsubscribeTyping(leaveMsg.ConversationID, conn.ID)
	})

	// -----------------------------------------------------------------------
	// typing_start / typing_stop — relay the indicator to the partner
	// -----------------------------------------------------------------------
	typingHandler := func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		isTyping := typingMsg.Type == protocol.TypeTypingStart
		if err := pipeline.Typing(context.Background(), typingMsg.ConversationID, conn.UserID, isTyping); err != nil {
			dispatcher.SendAppError(conn, err)
		}
	}
	dispatcher.Register(protocol.TypeTypingStart, typingHandler)
	dispatcher.Register(protocol.TypeTypingStop, typingHandler)

	// -----------------------------------------------------------------------
	// send_message — real-time entry to the shared send pipeline
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		if !limiter.Allow(ctx, ratelimit.RuleMessage, conn.UserID) {
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: limiter.RetryAfter(ctx, ratelimit.RuleMessage, conn.UserID),
			})
			_ = conn.WriteMessage(resp)
			return
		}

		persisted, err := pipeline.Send(ctx, delivery.SendInput{
			ConversationID: sendMsg.ConversationID,
			SenderID:       conn.UserID,
			Type:           sendMsg.MessageType,
			Content:        sendMsg.Content,
			VoiceDuration:  sendMsg.VoiceDuration,
		})
		if err != nil {
			dispatcher.SendAppError(conn, err)
			return
		}

		ack, err := protocol.NewServerMessage(protocol.TypeMessageSent, protocol.MessageSentMsg{
			Message: persisted,
		})
		if err != nil {
			log.Printf("[ws-handler] build message_sent conn=%s: %v", conn.ID, err)
			return
		}
		_ = conn.WriteMessage(ack)
	})

	// -----------------------------------------------------------------------
	// message_read — real-time entry to the read-receipt operation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessageRead, func(conn *ws.Connection, msg interface{}) {
		readMsg, ok := msg.(protocol.MessageReadMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		if !limiter.Allow(ctx, ratelimit.RuleRead, conn.UserID) {
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: limiter.RetryAfter(ctx, ratelimit.RuleRead, conn.UserID),
			})
			_ = conn.WriteMessage(resp)
			return
		}

		if _, err := pipeline.MarkRead(ctx, readMsg.ConversationID, conn.UserID, readMsg.MessageIDs); err != nil {
			dispatcher.SendAppError(conn, err)
		}
	})

	// -----------------------------------------------------------------------
	// request_user_status — answered from the presence registry
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRequestUserStatus, func(conn *ws.Connection, msg interface{}) {
		statusMsg, ok := msg.(protocol.RequestUserStatusMsg)
		if !ok {
			return
		}
		resp, err := protocol.NewServerMessage(protocol.TypeUserStatus, protocol.UserStatusMsg{
			UserID: statusMsg.UserID,
			Online: registry.IsOnline(statusMsg.UserID),
		})
		if err != nil {
			return
		}
		_ = conn.WriteMessage(resp)
	})

	server = ws.NewServer(config, sessionStore, wsAuthenticate, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// On connect: mark presence and bridge the user's private channel onto
	// this connection. Events published by the pipeline (new_message,
	// message_delivered, messages_read, match_moved_to_chat) already carry
	// their type discriminator and are forwarded verbatim.
	server.SetOnConnect(func(conn *ws.Connection) {
		registry.MarkOnline(conn.UserID, conn.ID)

		localConn := conn.ID
		if err := natsClient.SubscribeToUser(conn.UserID, localConn, func(data []byte) {
			if err := server.SendMessage(localConn, data); err != nil {
				log.Printf("[ws-handler] forward event to conn=%s failed: %v", localConn, err)
			}
		}); err != nil {
			log.Printf("[ws-handler] user subscribe conn=%s: %v", localConn, err)
		}
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		registry.MarkOffline(conn.UserID, conn.ID)
		natsClient.UnsubscribeAll(conn.ID)
	})

	// --- REST API ---
	// The internal routes (conversation creation, sweep trigger) live on a
	// separate listener that stays behind the service network; only the
	// public router is exposed through the gateway.
	api := httpapi.New(pipeline, convStore, msgStore, sweeper, engine, profileStore, limiter, httpapi.Authenticator(authenticate))
	apiServer := &http.Server{Addr: apiAddr, Handler: api.Router()}
	go func() {
		log.Printf("api: listening on %s", apiAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()
	internalServer := &http.Server{Addr: internalAddr, Handler: api.InternalRouter()}
	go func() {
		log.Printf("api: internal routes listening on %s", internalAddr)
		if err := internalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("internal api server error: %v", err)
		}
	}()

	// --- Metrics ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("metrics: listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// --- Expiry sweep loop ---
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		stopSweep()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiServer.Shutdown(shutdownCtx)
		_ = internalServer.Shutdown(shutdownCtx)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
