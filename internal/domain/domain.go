package domain

// Role identifies what an actor may do. Stored lowercase.
type Role string

const (
	RoleClient      Role = "client"
	RoleFreelancer  Role = "freelancer"
	RoleAdmin       Role = "admin"
	RoleInterviewer Role = "interviewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleFreelancer, RoleAdmin, RoleInterviewer:
		return true
	}
	return false
}

type Actor struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Project status values.
const (
	ProjectUnassigned = "unassigned"
	ProjectPending    = "pending"
	ProjectInProgress = "in-progress"
	ProjectCompleted  = "completed"
	ProjectCancelled  = "cancelled"
)

type Project struct {
	ID                          string  `json:"id"`
	Title                       string  `json:"title"`
	Description                 string  `json:"description,omitempty"`
	Status                      string  `json:"status" enum:"unassigned,pending,in-progress,completed,cancelled"`
	Budget                      int64   `json:"budget"`
	FinalBudget                 *int64  `json:"final_budget,omitempty"`
	Category                    string  `json:"category"`
	CreatedBy                   string  `json:"created_by"`
	AssignedTo                  *string `json:"assigned_to,omitempty"`
	HasRequestedAdminManagement bool    `json:"has_requested_admin_management"`
	AdminManagementRequestedAt  *string `json:"admin_management_requested_at,omitempty" format:"date-time"`
	PaymentID                   *string `json:"payment_id,omitempty"`
	CreatedAt                   string  `json:"created_at" format:"date-time"`
	UpdatedAt                   string  `json:"updated_at" format:"date-time"`
}

type Application struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id"`
	ApplicantID      string `json:"applicant_id"`
	ProposalSummary  string `json:"proposal_summary,omitempty"`
	ExpectedPayment  *int64 `json:"expected_payment,omitempty"`
	IsChosenByClient bool   `json:"is_chosen_by_client"`
	AppliedAt        string `json:"applied_at" format:"date-time"`
}

// Chat status values.
const (
	ChatDiscussion = "discussion"
	ChatCommitted  = "committed"
	ChatClosed     = "closed"
)

// Chat types.
const (
	ChatTypeIndividual = "individual"
	ChatTypeProject    = "project"
	ChatTypeGroup      = "group"
)

type Chat struct {
	ID           string   `json:"id"`
	Type         string   `json:"type" enum:"individual,project,group"`
	ProjectID    *string  `json:"project_id,omitempty"`
	Status       string   `json:"status" enum:"discussion,committed,closed"`
	IsLocked     bool     `json:"is_locked"`
	AdminAdded   bool     `json:"admin_added"`
	Participants []string `json:"participants,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// Message is one entry in a chat's append-only sequence. System messages have
// no sender and carry an event tag; they are never editable.
type Message struct {
	ID       int64   `json:"id"`
	ChatID   string  `json:"chat_id"`
	SenderID *string `json:"sender_id,omitempty"`
	Content  string  `json:"content"`
	EventTag *string `json:"event_tag,omitempty"`
	Read     bool    `json:"read"`
	SentAt   string  `json:"sent_at" format:"date-time"`
}

// System message event tags.
const (
	EventDiscussionStarted      = "discussion_started"
	EventFreelancerCommitted    = "freelancer_committed"
	EventDiscussionClosed       = "discussion_closed"
	EventAdminManagementEnabled = "admin_management_enabled"
	EventUserAdded              = "user_added"
	EventUserRemoved            = "user_removed"
)

// Payment stage status values.
const (
	StagePending = "pending"
	StageCreated = "created"
	StagePaid    = "paid"
	StageFailed  = "failed"
)

// Payment overall status values.
const (
	OverallPending     = "pending"
	OverallAdvancePaid = "advance_paid"
	OverallFinalPaid   = "final_paid"
	OverallReleased    = "released"
	OverallRefunded    = "refunded"
	OverallFailed      = "failed"
)

// Release status values. Monotonic: not_released -> released | refunded, terminal.
const (
	ReleaseNone     = "not_released"
	ReleaseReleased = "released"
	ReleaseRefunded = "refunded"
)

// PaymentStage is the collected ("total") stage of a payment. Amount is the
// base amount plus the client-side service charge.
type PaymentStage struct {
	Amount           int64   `json:"amount"`
	Status           string  `json:"status" enum:"pending,created,paid,failed"`
	GatewayOrderID   *string `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string `json:"gateway_payment_id,omitempty"`
	GatewaySignature *string `json:"gateway_signature,omitempty"`
	PaymentMethod    *string `json:"payment_method,omitempty"`
	ClaimedPaid      bool    `json:"claimed_paid"`
	ClaimedPaidAt    *string `json:"claimed_paid_at,omitempty" format:"date-time"`
	ErrorCode        *string `json:"error_code,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	CompletedAt      *string `json:"completed_at,omitempty" format:"date-time"`
}

type Payment struct {
	ID                   string       `json:"id"`
	ProjectID            string       `json:"project_id"`
	ClientID             string       `json:"client_id"`
	FreelancerID         *string      `json:"freelancer_id,omitempty"`
	TotalAmount          int64        `json:"total_amount"`
	Currency             string       `json:"currency"`
	ServiceCharge        int64        `json:"service_charge"`
	CommissionFee        int64        `json:"commission_fee"`
	Total                PaymentStage `json:"total"`
	OverallStatus        string       `json:"overall_status" enum:"pending,advance_paid,final_paid,released,refunded,failed"`
	ReleaseAmount        int64        `json:"release_amount"`
	ReleaseStatus        string       `json:"release_status" enum:"not_released,released,refunded"`
	IsAdminManagementFee bool         `json:"is_admin_management_fee"`
	ModerationID         *string      `json:"moderation_id,omitempty"`
	CreatedAt            string       `json:"created_at" format:"date-time"`
	UpdatedAt            string       `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
