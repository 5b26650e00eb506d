package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env
// y opcionalmente archivo .env).
type Config struct {
	App   AppConfig
	DB    DBConfig
	HTTP  HTTPConfig
	SIFEN SIFENConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
}

// SIFENConfig configuración de facturación electrónica SIFEN (Paraguay).
type SIFENConfig struct {
	Environment string // "1" = Producción, "2" = Pruebas

	// Identidad del emisor
	RUC         string // RUC del emisor con DV (ej: "80012345-0")
	LegalName   string // razón social
	Address     string

	// Serie fiscal: el número legal del documento es {est}-{punto}-{secuencial}
	// bajo la autorización del timbrado.
	Timbrado        string
	Establecimiento string // ej: "001"
	PuntoExpedicion string // ej: "001"

	// Credencial de firma
	CSC          string // código de seguridad del contribuyente (CDC y QR)
	CertPath     string // certificado .p12 o .pem (vacío = no firmar, simulado)
	CertKeyPath  string // llave privada .pem si CertPath es solo el certificado
	CertPassword string // contraseña del .p12

	// Red
	ConnectTimeout time.Duration // timeout de conexión por llamada al WS
	ReadTimeout    time.Duration // timeout de lectura por llamada al WS
	MaxRetries     int           // reintentos de transporte (backoff exponencial acotado)

	// Contingencia
	ContingencyEnabled  bool
	ContingencyInterval time.Duration // intervalo del drenador periódico de la cola
}

// DBConfig configuración de PostgreSQL. Si DatabaseURL no está vacío se usa
// como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// ConnectionString devuelve el DSN a usar: DatabaseURL si está definido, si no el construido.
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN construye el connection string con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load lee la configuración desde variables de entorno (y opcionalmente .env).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST,
// SIFEN_RUC, SIFEN_TIMBRADO, etc.
func Load() (*Config, error) {
	v := viper.New()

	// Opcional: archivo .env en el directorio de trabajo
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env:  getString(v, "APP_ENV", "development"),
			Name: getString(v, "APP_NAME", "gestlog"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "gestlog"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		SIFEN: SIFENConfig{
			Environment:         getString(v, "SIFEN_ENVIRONMENT", "2"),
			RUC:                 getString(v, "SIFEN_RUC", ""),
			LegalName:           getString(v, "SIFEN_LEGAL_NAME", ""),
			Address:             getString(v, "SIFEN_ADDRESS", ""),
			Timbrado:            getString(v, "SIFEN_TIMBRADO", ""),
			Establecimiento:     getString(v, "SIFEN_ESTABLECIMIENTO", "001"),
			PuntoExpedicion:     getString(v, "SIFEN_PUNTO_EXPEDICION", "001"),
			CSC:                 getString(v, "SIFEN_CSC", ""),
			CertPath:            getString(v, "SIFEN_CERT_PATH", ""),
			CertKeyPath:         getString(v, "SIFEN_CERT_KEY_PATH", ""),
			CertPassword:        getString(v, "SIFEN_CERT_PASSWORD", ""),
			ConnectTimeout:      getDuration(v, "SIFEN_CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:         getDuration(v, "SIFEN_READ_TIMEOUT", 45*time.Second),
			MaxRetries:          getInt(v, "SIFEN_MAX_RETRIES", 3),
			ContingencyEnabled:  getBool(v, "SIFEN_CONTINGENCY_ENABLED", true),
			ContingencyInterval: getDuration(v, "SIFEN_CONTINGENCY_INTERVAL", 5*time.Minute),
		},
	}

	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, _ := strconv.Atoi(v.GetString(key))
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if v.IsSet(key) {
		if d, err := time.ParseDuration(v.GetString(key)); err == nil {
			return d
		}
	}
	return def
}
