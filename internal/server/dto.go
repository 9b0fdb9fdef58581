package server

// Request payloads. Responses reuse the domain structs, which carry the JSON
// and schema tags already.

type CreateProjectRequest struct {
	Title       string `json:"title" minLength:"1"`
	Description string `json:"description,omitempty"`
	Budget      int64  `json:"budget" minimum:"0"`
	Category    string `json:"category" minLength:"1"`
}

type ApplyRequest struct {
	ProposalSummary string `json:"proposal_summary,omitempty"`
	ExpectedPayment *int64 `json:"expected_payment,omitempty"`
}

type ChooseApplicantRequest struct {
	ApplicantID string `json:"applicant_id" minLength:"1"`
}

type ProceedRequest struct {
	ChatID      string `json:"chat_id" minLength:"1"`
	FinalBudget int64  `json:"final_budget" minimum:"1"`
}

type CreatePaymentRequest struct {
	ProjectID string `json:"project_id" minLength:"1"`
}

type ClaimPaidRequest struct {
	PaymentMethod string `json:"payment_method,omitempty"`
}

type SendMessageRequest struct {
	Content string `json:"content" minLength:"1"`
}

type AddParticipantRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
}
