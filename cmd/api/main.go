package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/gestlog/logistica-api/internal/application/billing"
	infrasifen "github.com/gestlog/logistica-api/internal/infrastructure/sifen"
	"github.com/gestlog/logistica-api/internal/infrastructure/sifen/signer"
	"github.com/gestlog/logistica-api/internal/infrastructure/postgres"
	httpRouter "github.com/gestlog/logistica-api/internal/interfaces/http"
	"github.com/gestlog/logistica-api/pkg/config"
	"github.com/gestlog/logistica-api/pkg/logger"
	pkgsifen "github.com/gestlog/logistica-api/pkg/sifen"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   "info",
		Service: cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("sifen_env", cfg.SIFEN.Environment).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	attemptRepo := postgres.NewSubmissionAttemptRepository(pool)
	queueRepo := postgres.NewContingencyQueueRepository(pool)
	clientRepo := postgres.NewClientRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Credencial de firma: sin certificado configurado el XML viaja sin firma
	// (solo sirve contra el ambiente de pruebas).
	var signerSvc pkgsifen.Signer
	var credential tls.Certificate
	if cfg.SIFEN.CertPath != "" {
		credential, err = signer.LoadCredential(cfg.SIFEN.CertPath, cfg.SIFEN.CertKeyPath, cfg.SIFEN.CertPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("cargar credencial de firma")
		}
		signerSvc = signer.NewDigitalSignatureService()
	} else {
		log.Warn().Msg("SIFEN_CERT_PATH vacío: los documentos se envían sin firmar")
	}

	authority := infrasifen.NewSOAPAuthorityClient(infrasifen.ClientOptions{
		Environment:    cfg.SIFEN.Environment,
		ConnectTimeout: cfg.SIFEN.ConnectTimeout,
		ReadTimeout:    cfg.SIFEN.ReadTimeout,
	})

	issuer := infrasifen.IssuerParams{
		RUC:         cfg.SIFEN.RUC,
		LegalName:   cfg.SIFEN.LegalName,
		Address:     cfg.SIFEN.Address,
		Timbrado:    cfg.SIFEN.Timbrado,
		CSC:         cfg.SIFEN.CSC,
		Environment: cfg.SIFEN.Environment,
	}

	invoiceUC := billing.NewInvoiceUseCase(invoiceRepo, clientRepo, orderRepo, attemptRepo, log)
	lifecycleUC := billing.NewLifecycleUseCase(invoiceRepo, clientRepo, attemptRepo, billing.SeriesConfig{
		Establecimiento: cfg.SIFEN.Establecimiento,
		PuntoExpedicion: cfg.SIFEN.PuntoExpedicion,
		Timbrado:        cfg.SIFEN.Timbrado,
	}, log)
	coordinator := billing.NewSubmissionCoordinator(
		txRunner, invoiceRepo, attemptRepo,
		infrasifen.NewDocumentBuilderService(),
		signerSvc, credential,
		authority, issuer,
		billing.SubmissionConfig{
			MaxRetries:         cfg.SIFEN.MaxRetries,
			ContingencyEnabled: cfg.SIFEN.ContingencyEnabled,
		},
		log,
	)

	// Drenador de contingencia: entrega diferida de los documentos encolados
	// mientras SIFEN estuvo inaccesible.
	drainerCtx, stopDrainer := context.WithCancel(ctx)
	defer stopDrainer()
	if cfg.SIFEN.ContingencyEnabled {
		drainer := billing.NewContingencyDrainer(queueRepo, invoiceRepo, coordinator, authority, log.Component("contingencia"))
		go drainer.RunPeriodic(drainerCtx, cfg.SIFEN.ContingencyInterval)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Gestlog Facturación API",
	}))

	httpRouter.Router(app, httpRouter.RouterDeps{
		InvoiceUC:   invoiceUC,
		LifecycleUC: lifecycleUC,
		Coordinator: coordinator,
		Health:      httpRouter.NewHealthHandler(cfg.App.Name, pool, authority),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")
	stopDrainer()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}
