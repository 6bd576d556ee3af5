package store

import "time"

// Role is what a user can do in the bot.
type Role string

const (
	RoleDriver  Role = "conductor"
	RoleManager Role = "gestor_parqueadero"
)

// Registration tracks onboarding progress.
type Registration string

const (
	RegistrationAwaitingName     Registration = "esperando_nombre"
	RegistrationAwaitingReferral Registration = "esperando_codigo_referido"
	RegistrationComplete         Registration = "completo"
)

// Chat steps.
const (
	StepInitial    = "inicial"
	StepConversing = "conversando"
)

// ChatState is the per-user conversation bookkeeping.
type ChatState struct {
	LastInteraction time.Time         `json:"last_interaction" bson:"ultima_interaccion"`
	Step            string            `json:"step" bson:"paso_actual"`
	Context         map[string]string `json:"context,omitempty" bson:"contexto_temporal,omitempty"`
}

// User is a WhatsApp (or Telegram) contact.
type User struct {
	ID               string       `json:"id" bson:"_id"`
	Name             string       `json:"name" bson:"name"`
	Role             Role         `json:"role" bson:"rol"`
	Chat             ChatState    `json:"chat" bson:"estado_chat"`
	Registration     Registration `json:"registration" bson:"estado_registro"`
	Premium          bool         `json:"premium" bson:"es_premium"`
	PremiumExpiresAt *time.Time   `json:"premium_expires_at,omitempty" bson:"fecha_expiracion_premium,omitempty"`
	ReferralCode     string       `json:"referral_code,omitempty" bson:"codigo_referido,omitempty"`
	ReferredBy       string       `json:"referred_by,omitempty" bson:"referido_por,omitempty"`
	ReferralCount    int          `json:"referral_count" bson:"numero_referidos"`
	LotID            string       `json:"lot_id,omitempty" bson:"parqueadero_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at" bson:"fecha_creacion"`
}

// Registered reports whether onboarding finished.
func (u *User) Registered() bool {
	return u.Registration == RegistrationComplete
}

// Lot is a parking lot.
type Lot struct {
	ID              string    `json:"id" bson:"_id"`
	Name            string    `json:"name" bson:"name"`
	Location        string    `json:"location" bson:"ubicacion"`
	Capacity        int       `json:"capacity" bson:"capacidad"`
	HasSpots        bool      `json:"has_spots" bson:"tiene_cupos"`
	FreeSpots       string    `json:"free_spots" bson:"cupos_libres"`
	SpotRange       string    `json:"spot_range,omitempty" bson:"rango_cupos,omitempty"`
	OccupancyStatus string    `json:"occupancy_status,omitempty" bson:"estado_ocupacion,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" bson:"ultima_actualizacion"`

	// Score is set on search results only.
	Score float64 `json:"score,omitempty" bson:"-"`
}

// Spots returns the human-facing availability: the range when set, else the count.
func (l *Lot) Spots() string {
	if l.SpotRange != "" {
		return l.SpotRange
	}
	return l.FreeSpots
}

// Subscription asks for availability notifications. An empty LotID covers every lot.
type Subscription struct {
	ID        string    `json:"id" bson:"_id"`
	DriverID  string    `json:"driver_id" bson:"conductor_id"`
	LotID     string    `json:"lot_id,omitempty" bson:"parqueadero_id"`
	CreatedAt time.Time `json:"created_at" bson:"fecha_suscripcion"`
	Active    bool      `json:"active" bson:"activa"`
}

// Global reports whether the subscription covers all lots.
func (s *Subscription) Global() bool {
	return s.LotID == ""
}

// ReportKindSpots is the only crowd report kind.
const ReportKindSpots = "cupos_disponibles"

// Report is a driver's claim that a lot has free spots.
type Report struct {
	ID        string    `json:"id" bson:"_id"`
	LotID     string    `json:"lot_id" bson:"parqueadero_id"`
	DriverID  string    `json:"driver_id" bson:"conductor_id"`
	CreatedAt time.Time `json:"created_at" bson:"fecha_reporte"`
	Kind      string    `json:"kind" bson:"tipo_reporte"`
	Processed bool      `json:"processed" bson:"procesado"`
}

// MessageRole is the author of a conversation message.
type MessageRole string

const (
	MessageUser      MessageRole = "user"
	MessageAssistant MessageRole = "assistant"
)

// ConversationMessage is one line of agent conversation history.
type ConversationMessage struct {
	ID        string      `json:"id" bson:"_id"`
	UserID    string      `json:"user_id" bson:"user_id"`
	Role      MessageRole `json:"role" bson:"rol"`
	Content   string      `json:"content" bson:"contenido"`
	CreatedAt time.Time   `json:"created_at" bson:"timestamp"`
	Active    bool        `json:"active" bson:"activo"`
}

// InboundMessage is a received provider message, kept to drop redeliveries.
type InboundMessage struct {
	ID         string    `json:"id" bson:"_id"`
	UserID     string    `json:"user_id" bson:"user_id"`
	Channel    string    `json:"channel" bson:"canal"`
	Text       string    `json:"text" bson:"texto"`
	ReceivedAt time.Time `json:"received_at" bson:"fecha_recepcion"`
}

// LotEmbedding is the semantic index entry of a lot.
type LotEmbedding struct {
	LotID     string    `json:"lot_id" bson:"_id"`
	Model     string    `json:"model" bson:"modelo"`
	Document  string    `json:"document" bson:"documento"`
	Vector    []float32 `json:"vector" bson:"vector"`
	UpdatedAt time.Time `json:"updated_at" bson:"fecha_actualizacion"`
}
