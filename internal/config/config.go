package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type CameraConfig struct {
	SnapshotURL string
	Username    string
	Password    string
	StillPath   string
	Timeout     time.Duration
}

type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	SettleDelay time.Duration
}

type SensorConfig struct {
	Token       string
	Debounce    time.Duration
	WaitTimeout time.Duration
	RetryDelay  time.Duration
	MaxErrors   int
}

type ActuatorConfig struct {
	OpenToken     string
	AlarmOnToken  string
	AlarmOffToken string
}

type InferenceConfig struct {
	Command       string
	Args          []string
	RowTolerance  float64
	EmbeddingDim  int
	MinConfidence float64
}

type ValidationConfig struct {
	GateID              string
	FaceThreshold       float64
	OverrideWaitTimeout time.Duration
	OverridePollTimeout time.Duration
	OverrideMarksExited bool
	RetentionDays       int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	QueueKey string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	PublicBaseURL string
	LocalDir      string
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Camera      CameraConfig
	Serial      SerialConfig
	Sensor      SensorConfig
	Actuator    ActuatorConfig
	Inference   InferenceConfig
	Validation  ValidationConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	Storage     StorageConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Camera: CameraConfig{
			SnapshotURL: v.GetString("CAMERA_SNAPSHOT_URL"),
			Username:    v.GetString("CAMERA_USERNAME"),
			Password:    v.GetString("CAMERA_PASSWORD"),
			StillPath:   v.GetString("CAMERA_STILL_PATH"),
			Timeout:     v.GetDuration("CAMERA_TIMEOUT"),
		},
		Serial: SerialConfig{
			Port:        v.GetString("SERIAL_PORT"),
			BaudRate:    v.GetInt("SERIAL_BAUD"),
			ReadTimeout: v.GetDuration("SERIAL_READ_TIMEOUT"),
			SettleDelay: v.GetDuration("SERIAL_SETTLE_DELAY"),
		},
		Sensor: SensorConfig{
			Token:       v.GetString("SENSOR_TOKEN"),
			Debounce:    v.GetDuration("SENSOR_DEBOUNCE"),
			WaitTimeout: v.GetDuration("SENSOR_WAIT_TIMEOUT"),
			RetryDelay:  v.GetDuration("SENSOR_RETRY_DELAY"),
			MaxErrors:   v.GetInt("SENSOR_MAX_ERRORS"),
		},
		Actuator: ActuatorConfig{
			OpenToken:     v.GetString("ACTUATOR_OPEN_TOKEN"),
			AlarmOnToken:  v.GetString("ACTUATOR_ALARM_ON_TOKEN"),
			AlarmOffToken: v.GetString("ACTUATOR_ALARM_OFF_TOKEN"),
		},
		Inference: InferenceConfig{
			Command:       v.GetString("INFERENCE_COMMAND"),
			Args:          v.GetStringSlice("INFERENCE_ARGS"),
			RowTolerance:  v.GetFloat64("OCR_ROW_TOLERANCE"),
			EmbeddingDim:  v.GetInt("EMBEDDING_DIM"),
			MinConfidence: v.GetFloat64("DETECTION_MIN_CONFIDENCE"),
		},
		Validation: ValidationConfig{
			GateID:              v.GetString("GATE_ID"),
			FaceThreshold:       v.GetFloat64("VALIDATION_FACE_THRESHOLD"),
			OverrideWaitTimeout: v.GetDuration("OVERRIDE_WAIT_TIMEOUT"),
			OverridePollTimeout: v.GetDuration("OVERRIDE_POLL_TIMEOUT"),
			OverrideMarksExited: v.GetBool("OVERRIDE_MARKS_EXITED"),
			RetentionDays:       v.GetInt("RETENTION_DAYS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			QueueKey: v.GetString("OVERRIDE_QUEUE_KEY"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("MQTT_BROKER"),
			ClientID: v.GetString("MQTT_CLIENT_ID"),
			Username: v.GetString("MQTT_USERNAME"),
			Password: v.GetString("MQTT_PASSWORD"),
			Topic:    v.GetString("MQTT_TOPIC"),
		},
		Storage: StorageConfig{
			Endpoint:      v.GetString("R2_ENDPOINT"),
			AccessKey:     v.GetString("R2_ACCESS_KEY_ID"),
			SecretKey:     v.GetString("R2_SECRET_ACCESS_KEY"),
			Bucket:        v.GetString("R2_BUCKET"),
			Region:        v.GetString("R2_REGION"),
			PublicBaseURL: v.GetString("R2_PUBLIC_BASE_URL"),
			LocalDir:      v.GetString("ARTIFACT_DIR"),
		},
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Camera.Timeout == 0 {
		cfg.Camera.Timeout = 5 * time.Second
	}
	if cfg.Serial.Port == "" {
		cfg.Serial.Port = "/dev/ttyUSB0"
	}
	if cfg.Serial.BaudRate == 0 {
		cfg.Serial.BaudRate = 115200
	}
	if cfg.Serial.ReadTimeout == 0 {
		cfg.Serial.ReadTimeout = 50 * time.Millisecond
	}
	if cfg.Serial.SettleDelay == 0 {
		// the controller board resets when the port opens
		cfg.Serial.SettleDelay = 2 * time.Second
	}
	if cfg.Sensor.Token == "" {
		cfg.Sensor.Token = "VEHICLE_DETECTED"
	}
	if cfg.Sensor.Debounce == 0 {
		cfg.Sensor.Debounce = 1500 * time.Millisecond
	}
	if cfg.Sensor.WaitTimeout == 0 {
		cfg.Sensor.WaitTimeout = time.Second
	}
	if cfg.Sensor.RetryDelay == 0 {
		cfg.Sensor.RetryDelay = 2 * time.Second
	}
	if cfg.Sensor.MaxErrors == 0 {
		cfg.Sensor.MaxErrors = 5
	}
	if cfg.Actuator.OpenToken == "" {
		cfg.Actuator.OpenToken = "OPEN"
	}
	if cfg.Actuator.AlarmOnToken == "" {
		cfg.Actuator.AlarmOnToken = "ALARM_ON"
	}
	if cfg.Actuator.AlarmOffToken == "" {
		cfg.Actuator.AlarmOffToken = "ALARM_OFF"
	}
	if cfg.Inference.Command == "" {
		cfg.Inference.Command = "python3"
	}
	if len(cfg.Inference.Args) == 0 {
		cfg.Inference.Args = []string{"-u", "inference/worker.py"}
	}
	if cfg.Inference.RowTolerance == 0 {
		cfg.Inference.RowTolerance = 25
	}
	if cfg.Validation.GateID == "" {
		cfg.Validation.GateID = "gate-1"
	}
	if cfg.Validation.FaceThreshold == 0 {
		cfg.Validation.FaceThreshold = 0.6
	}
	if cfg.Validation.OverrideWaitTimeout == 0 {
		cfg.Validation.OverrideWaitTimeout = 5 * time.Minute
	}
	if cfg.Validation.OverridePollTimeout == 0 {
		cfg.Validation.OverridePollTimeout = time.Second
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.QueueKey == "" {
		cfg.Redis.QueueKey = "gate:override"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gate-service"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "gate/events"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "auto"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "./artifacts"
	}
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Validation.FaceThreshold <= 0 || cfg.Validation.FaceThreshold > 1 {
		return fmt.Errorf("VALIDATION_FACE_THRESHOLD must be in (0, 1], got %v", cfg.Validation.FaceThreshold)
	}
	if cfg.Validation.OverridePollTimeout > cfg.Validation.OverrideWaitTimeout {
		return fmt.Errorf("OVERRIDE_POLL_TIMEOUT must not exceed OVERRIDE_WAIT_TIMEOUT")
	}
	if cfg.Sensor.MaxErrors < 0 {
		return fmt.Errorf("SENSOR_MAX_ERRORS must not be negative")
	}
	if cfg.Validation.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative")
	}
	return nil
}
