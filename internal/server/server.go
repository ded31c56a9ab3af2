package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/cache"
	"classhub-backend/internal/config"
	"classhub-backend/internal/handler"
	"classhub-backend/internal/model"
	"classhub-backend/internal/presence"
	"classhub-backend/internal/relay"
	"classhub-backend/internal/service"
	"classhub-backend/internal/storage"
)

// Server Fiber 서버 래퍼
type Server struct {
	app *fiber.App
	cfg *config.Config
	db  *gorm.DB

	redis *cache.RedisClient
	hub   *relay.Hub

	authHandler         *handler.AuthHandler
	userHandler         *handler.UserHandler
	classroomHandler    *handler.ClassroomHandler
	noticeHandler       *handler.NoticeHandler
	chatHandler         *handler.ChatHandler
	chatWSHandler       *handler.ChatWSHandler
	pollHandler         *handler.PollHandler
	calendarHandler     *handler.CalendarHandler
	storageHandler      *handler.StorageHandler
	presentationHandler *handler.PresentationHandler
	notificationHandler *handler.NotificationHandler
	notificationWS      *handler.NotificationWSHandler
	callHandler         *handler.CallHandler
	callWSHandler       *handler.CallWSHandler
	healthHandler       *handler.HealthHandler
	jwtManager          *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "ClassHub Backend",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             10 * 1024 * 1024, // 10MB
		DisableStartupMessage: false,
	})

	serverID := uuid.NewString()

	// Auth 초기화
	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	// Redis 초기화 (선택적 - 없으면 캐시/투표/발표/멀티서버 브리지 비활성화)
	var redisClient *cache.RedisClient
	var presenceManager *presence.Manager
	if cfg.Redis.Addr != "" {
		var err error
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (running without cache)", err)
			redisClient = nil
		} else {
			log.Printf("✅ Redis connected (%s)", cfg.Redis.Addr)
			presenceManager = presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		}
	} else {
		log.Println("ℹ️ Redis not configured (running without cache)")
	}

	// S3 서비스 초기화 (선택적)
	var s3Service *storage.S3Service
	if cfg.S3.BucketName != "" && cfg.S3.AccessKeyID != "" {
		var err error
		s3Service, err = storage.NewS3Service(cfg.S3)
		if err != nil {
			log.Printf("⚠️ S3 service initialization failed: %v (file upload will be disabled)", err)
		} else {
			log.Printf("✅ S3 service initialized (bucket: %s)", cfg.S3.BucketName)
		}
	} else {
		log.Println("ℹ️ S3 service not configured (file upload will be disabled)")
	}

	memberService := service.NewMemberService(db)
	callService := service.NewCallService(db)
	hub := relay.NewHub(redisClient)

	chatHandler := handler.NewChatHandler(db, redisClient)
	chatWSHandler := handler.NewChatWSHandler(db, chatHandler)

	return &Server{
		app:   app,
		cfg:   cfg,
		db:    db,
		redis: redisClient,
		hub:   hub,

		authHandler:         handler.NewAuthHandler(db, jwtManager, cfg.Auth.SecureCookie),
		userHandler:         handler.NewUserHandler(db),
		classroomHandler:    handler.NewClassroomHandler(db, presenceManager),
		noticeHandler:       handler.NewNoticeHandler(db, memberService, chatWSHandler),
		chatHandler:         chatHandler,
		chatWSHandler:       chatWSHandler,
		pollHandler:         handler.NewPollHandler(db, redisClient),
		calendarHandler:     handler.NewCalendarHandler(db, memberService),
		storageHandler:      handler.NewStorageHandler(db, s3Service, memberService),
		presentationHandler: handler.NewPresentationHandler(db, redisClient, memberService, chatWSHandler),
		notificationHandler: handler.NewNotificationHandler(db),
		notificationWS:      handler.GetNotificationHub(),
		callHandler:         handler.NewCallHandler(db, callService, memberService, presenceManager, hub, serverID, cfg.WebRTC.STUNServers),
		callWSHandler:       handler.NewCallWSHandler(hub, callService),
		healthHandler:       handler.NewHealthHandler(db, redisClient),
		jwtManager:          jwtManager,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/register", authLimiter, s.authHandler.Register)
	authGroup.Post("/login", authLimiter, s.authHandler.Login)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", auth.AuthMiddleware(s.jwtManager), s.authHandler.Logout)
	authGroup.Get("/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.GetMe)

	// User 라우트 그룹 (인증 필요)
	userGroup := s.app.Group("/api/users", auth.AuthMiddleware(s.jwtManager))
	userGroup.Get("/search", s.userHandler.SearchUsers)

	// Notification 라우트 그룹 (인증 필요)
	notificationGroup := s.app.Group("/api/notifications", auth.AuthMiddleware(s.jwtManager))
	notificationGroup.Get("", s.notificationHandler.GetMyNotifications)
	notificationGroup.Post("/read-all", s.notificationHandler.MarkAllAsRead)
	notificationGroup.Post("/:id/read", s.notificationHandler.MarkAsRead)

	// Classroom 라우트 그룹 (인증 필요)
	classroomGroup := s.app.Group("/api/classrooms", auth.AuthMiddleware(s.jwtManager))
	classroomGroup.Post("/", s.classroomHandler.CreateClassroom)
	classroomGroup.Get("/", s.classroomHandler.GetMyClassrooms)
	classroomGroup.Post("/join", s.classroomHandler.JoinClassroom)
	classroomGroup.Get("/:id", s.classroomHandler.GetClassroom)
	classroomGroup.Delete("/:id/leave", s.classroomHandler.LeaveClassroom)
	classroomGroup.Get("/:id/members", s.classroomHandler.GetMembers)

	// Notice 라우트 (학급 하위)
	classroomGroup.Get("/:id/notices", s.noticeHandler.GetNotices)
	classroomGroup.Post("/:id/notices", s.noticeHandler.CreateNotice)
	classroomGroup.Put("/:id/notices/:noticeId", s.noticeHandler.UpdateNotice)
	classroomGroup.Delete("/:id/notices/:noticeId", s.noticeHandler.DeleteNotice)

	// Chat 라우트 (REST 폴백 - 실시간은 /ws/chat)
	classroomGroup.Get("/:id/messages", s.chatHandler.GetMessages)
	classroomGroup.Post("/:id/messages", s.chatHandler.SendMessage)

	// Poll 라우트 (학급 하위)
	classroomGroup.Get("/:id/polls", s.pollHandler.GetPolls)
	classroomGroup.Post("/:id/polls", s.pollHandler.CreatePoll)
	classroomGroup.Get("/:id/polls/:pollId", s.pollHandler.GetPoll)
	classroomGroup.Post("/:id/polls/:pollId/vote", s.pollHandler.Vote)
	classroomGroup.Post("/:id/polls/:pollId/close", s.pollHandler.ClosePoll)

	// Calendar 라우트 (학급 하위)
	classroomGroup.Get("/:id/events", s.calendarHandler.GetClassroomEvents)
	classroomGroup.Post("/:id/events", s.calendarHandler.CreateEvent)
	classroomGroup.Put("/:id/events/:eventId", s.calendarHandler.UpdateEvent)
	classroomGroup.Delete("/:id/events/:eventId", s.calendarHandler.DeleteEvent)
	classroomGroup.Put("/:id/events/:eventId/status", s.calendarHandler.UpdateAttendeeStatus)

	// Storage 라우트 (학급 하위)
	classroomGroup.Get("/:id/files", s.storageHandler.GetClassroomFiles)
	classroomGroup.Post("/:id/files/folder", s.storageHandler.CreateFolder)
	classroomGroup.Post("/:id/files/presign", s.storageHandler.GetPresignedURL)
	classroomGroup.Post("/:id/files/confirm", s.storageHandler.ConfirmUpload)
	classroomGroup.Get("/:id/files/:fileId/download", s.storageHandler.GetDownloadURL)
	classroomGroup.Put("/:id/files/:fileId", s.storageHandler.RenameFile)
	classroomGroup.Delete("/:id/files/:fileId", s.storageHandler.DeleteFile)

	// Presentation 라우트 (학급 하위)
	classroomGroup.Get("/:id/presentation", s.presentationHandler.GetPresentation)
	classroomGroup.Post("/:id/presentation", s.presentationHandler.StartPresentation)
	classroomGroup.Put("/:id/presentation/page", s.presentationHandler.SetPage)
	classroomGroup.Delete("/:id/presentation", s.presentationHandler.EndPresentation)

	// Call 라우트
	classroomGroup.Post("/:id/call", s.callHandler.JoinCall)
	classroomGroup.Get("/:id/call", s.callHandler.GetActiveCall)
	callGroup := s.app.Group("/api/calls", auth.AuthMiddleware(s.jwtManager))
	callGroup.Delete("/:sessionId/leave", s.callHandler.LeaveCall)

	// WebSocket 알림 엔드포인트
	s.app.Get("/ws/notifications", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := s.wsClaims(c)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userId", claims.UserID)
		return c.Next()
	}, websocket.New(s.notificationWS.HandleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))

	// WebSocket 채팅 엔드포인트 (학급 단위)
	s.app.Get("/ws/chat/:id", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := s.wsClaims(c)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		classroomID, err := c.ParamsInt("id")
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		// 멤버 확인 (ACTIVE 상태만)
		var count int64
		s.db.Table("classroom_members").
			Where("classroom_id = ? AND user_id = ? AND status = ?", classroomID, claims.UserID, model.MemberActive).
			Count(&count)
		if count == 0 {
			return c.SendStatus(fiber.StatusForbidden)
		}

		c.Locals("classroomId", int64(classroomID))
		c.Locals("userId", claims.UserID)
		c.Locals("nickname", claims.Nickname)

		return c.Next()
	}, websocket.New(s.chatWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))

	// WebSocket 통화 시그널링 엔드포인트
	s.app.Get("/ws/call/:sessionId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := s.wsClaims(c)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		sessionID, err := c.ParamsInt("sessionId")
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		// REST /call 참가 후에만 시그널링 연결을 허용
		var count int64
		s.db.Table("call_participants").
			Where("session_id = ? AND user_id = ? AND active = ?", sessionID, claims.UserID, true).
			Count(&count)
		if count == 0 {
			return c.SendStatus(fiber.StatusForbidden)
		}

		c.Locals("sessionId", int64(sessionID))
		c.Locals("userId", claims.UserID)

		return c.Next()
	}, websocket.New(s.callWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// wsClaims WebSocket 업그레이드 요청에서 JWT 추출 (쿠키 우선, 쿼리 파라미터 폴백)
func (s *Server) wsClaims(c *fiber.Ctx) (*auth.Claims, error) {
	token := c.Cookies("access_token")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return nil, fiber.ErrUnauthorized
	}
	return s.jwtManager.ValidateAccessToken(token)
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 ClassHub Backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 Signaling endpoint: ws://localhost%s/ws/call/:sessionId", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	s.hub.Close()
	if s.redis != nil {
		s.redis.Close()
	}
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
