package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/booking"
	"github.com/goliatone/go-checkin/catalog"
	"github.com/goliatone/go-checkin/eth"
	"github.com/goliatone/go-checkin/flow"
	"github.com/goliatone/go-checkin/fsm"
	"github.com/goliatone/go-checkin/postgres"
	"github.com/goliatone/go-checkin/recon"
)

// Config is the service environment.
type Config struct {
	DatabaseURL     string   `env:"DATABASE_URL,required"`
	RPCURL          string   `env:"RPC_URL" envDefault:"https://base-sepolia-rpc.publicnode.com"`
	ChainID         int64    `env:"CHAIN_ID" envDefault:"84532"`
	ContractAddress string   `env:"CONTRACT_ADDRESS,required"`
	RewardToken     string   `env:"REWARD_TOKEN_ADDRESS"`
	StableToken     string   `env:"STABLE_TOKEN_ADDRESS"`
	PrivateKey      string   `env:"PRIVATE_KEY,required"`
	Port            string   `env:"PORT" envDefault:"8080"`
	CatalogPath     string   `env:"CATALOG_PATH" envDefault:"places.yaml"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	ReconSchedule   string   `env:"RECON_SCHEDULE" envDefault:"@every 10m"`
	LogLevel        string   `env:"LOG_LEVEL" envDefault:"info"`
}

// CLI is the command surface.
type CLI struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Run the check-in service."`
	Sweep SweepCmd `cmd:"" help:"Run one reconciliation sweep and exit."`
}

func main() {
	cli := CLI{}
	ktx := kong.Parse(&cli,
		kong.Name("checkind"),
		kong.Description("Location check-in saga service."),
	)
	ktx.FatalIfErrorf(ktx.Run())
}

func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file, using process environment")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) fsm.Logger {
	base := glog.NewLogger(
		glog.WithLoggerTypeJSON(),
		glog.WithLevel(level),
	)
	return glogLogger{logger: base}
}

// glogLogger adapts go-logger to the runtime Logger contract.
type glogLogger struct {
	logger glog.Logger
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) fsm.Logger {
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) fsm.Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

// SweepCmd runs the reconciliation sweep once.
type SweepCmd struct{}

func (c *SweepCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	store, err := postgres.NewStore(pool, logger)
	if err != nil {
		return err
	}
	sweeper, err := recon.NewSweeper(store, recon.WithLogger(logger))
	if err != nil {
		return err
	}
	sweeper.Sweep(ctx)
	return nil
}

// ServeCmd runs the HTTP service.
type ServeCmd struct{}

func (c *ServeCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database")

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect chain rpc: %w", err)
	}
	defer client.Close()
	logger.Info("connected to chain rpc %s", cfg.RPCURL)

	wallet, err := eth.NewSigner(client, cfg.PrivateKey, cfg.ChainID, eth.WalletABI, eth.WithLogger(logger))
	if err != nil {
		return err
	}
	decoder, err := eth.NewABIDecoder(eth.WalletABI)
	if err != nil {
		return err
	}
	store, err := postgres.NewStore(pool, logger)
	if err != nil {
		return err
	}
	places, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	sweeper, err := recon.NewSweeper(store,
		recon.WithSchedule(cfg.ReconSchedule),
		recon.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	srv := &server{
		cfg:      cfg,
		logger:   logger,
		wallet:   wallet,
		decoder:  decoder,
		store:    store,
		catalog:  places,
		contract: common.HexToAddress(cfg.ContractAddress),
		sessions: make(map[string]*session),
		bookings: make(map[string]*booking.Saga),
		ctx:      ctx,
	}

	router := gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api/v1")
	{
		api.GET("/places", srv.listPlaces)
		api.POST("/places/:placeID/checkin", srv.startCheckIn)
		api.POST("/places/:placeID/checkin/retry", srv.retryCheckIn)
		api.POST("/places/:placeID/checkin/close", srv.closeCheckIn)
		api.GET("/places/:placeID/checkin", srv.checkInState)

		api.POST("/bookings", srv.createBooking)
		api.GET("/bookings/:id", srv.bookingState)
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	logger.Info("checkind listening on port %s", cfg.Port)
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// session pins one orchestrator to a place/user pairing and tracks the
// user's last reported position for the validation probe.
type session struct {
	orch *flow.Orchestrator

	mu  sync.Mutex
	pos checkin.Coordinate
}

func (s *session) setPosition(pos checkin.Coordinate) {
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
}

func (s *session) position(context.Context) (checkin.Coordinate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

type server struct {
	cfg      Config
	logger   fsm.Logger
	wallet   *eth.Signer
	decoder  *eth.ABIDecoder
	store    *postgres.Store
	catalog  *catalog.Catalog
	contract common.Address
	ctx      context.Context

	mu       sync.Mutex
	sessions map[string]*session
	bookings map[string]*booking.Saga
}

func (s *server) session(placeID, userID string) (*session, error) {
	key := userID + "::" + placeID
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}

	place, err := s.catalog.Place(s.ctx, placeID)
	if err != nil {
		return nil, err
	}
	sess := &session{}
	orch, err := flow.New(flow.Config{
		Place:    *place,
		UserID:   userID,
		Wallet:   s.wallet,
		Decoder:  s.decoder,
		Store:    s.store,
		Contract: s.contract,
		Position: sess.position,
		Recon:    s.store,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}
	sess.orch = orch
	orch.Start(s.ctx)
	s.sessions[key] = sess
	return sess, nil
}

type checkInRequest struct {
	UserID string  `json:"user_id" binding:"required"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

func (s *server) listPlaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"places": s.catalog.Places()})
}

func (s *server) startCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.session(c.Param("placeID"), req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	sess.setPosition(checkin.Coordinate{Lat: req.Lat, Lng: req.Lng})
	sess.orch.CheckIn(c.Request.Context())

	state, mctx := sess.orch.Snapshot()
	c.JSON(http.StatusAccepted, gin.H{"state": state, "context": mctx})
}

func (s *server) retryCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.session(c.Param("placeID"), req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	sess.orch.Retry(c.Request.Context())

	state, mctx := sess.orch.Snapshot()
	c.JSON(http.StatusOK, gin.H{"state": state, "context": mctx})
}

func (s *server) closeCheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.session(c.Param("placeID"), req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	sess.orch.Close(c.Request.Context())

	state, mctx := sess.orch.Snapshot()
	c.JSON(http.StatusOK, gin.H{"state": state, "context": mctx})
}

func (s *server) checkInState(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	sess, err := s.session(c.Param("placeID"), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	state, mctx := sess.orch.Snapshot()
	c.JSON(http.StatusOK, gin.H{"state": state, "context": mctx})
}

type bookingRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	TourID       string `json:"tour_id" binding:"required"`
	RewardAmount string `json:"reward_amount" binding:"required"`
	StableAmount string `json:"stable_amount" binding:"required"`
}

func (s *server) createBooking(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reward, ok := new(big.Int).SetString(req.RewardAmount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reward_amount"})
		return
	}
	stable, ok := new(big.Int).SetString(req.StableAmount, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stable_amount"})
		return
	}

	saga, err := booking.NewPurchase(s.wallet, s.store, booking.Order{
		TourID:       req.TourID,
		UserID:       req.UserID,
		RewardToken:  common.HexToAddress(s.cfg.RewardToken),
		StableToken:  common.HexToAddress(s.cfg.StableToken),
		Vendor:       s.contract,
		RewardAmount: reward,
		StableAmount: stable,
	}, booking.WithLogger(s.logger))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.bookings[id] = saga
	s.mu.Unlock()

	go func() {
		if err := saga.Execute(s.ctx); err != nil {
			s.logger.Error("booking %s failed: %v", id, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"booking_id": id})
}

func (s *server) bookingState(c *gin.Context) {
	s.mu.Lock()
	saga, ok := s.bookings[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}

	resp := gin.H{
		"in_progress":  saga.InProgress(),
		"current_step": saga.CurrentStep(),
		"done":         saga.Done(),
	}
	if err := saga.Err(); err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
