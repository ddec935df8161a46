package expert

import "github.com/neurosync-os/backend/internal/model/intent"

// Profile captures the role an expert handler plays and the prompt material it
// applies. Agent names the configuration block holding its model settings.
type Profile struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Title          string         `json:"title"`
	Intents        []intent.Label `json:"intents"`
	Agent          string         `json:"agent"`
	Instruction    string         `json:"instruction"`
	Guidelines     []string       `json:"guidelines,omitempty"`
	DefaultContext string         `json:"defaultContext,omitempty"`
	// ContextKey names the working-memory entry that overrides DefaultContext.
	ContextKey  string `json:"contextKey,omitempty"`
	Description string `json:"description,omitempty"`
}

// Seed provides the three experts the router dispatches to.
func Seed() []Profile {
	return []Profile{
		{
			ID:          "compliance",
			Name:        "Compliance Agent",
			Title:       "Special Education Lawyer",
			Intents:     []intent.Label{intent.Compliance},
			Agent:       "compliance",
			Instruction: "You are a Special Ed Lawyer. Check the request for compliance with special-education law and procedure.",
			Guidelines: []string{
				"Name the statute or regulation section that applies (IDEA, Section 504, FERPA) when one does.",
				"Separate what is legally required from what is recommended practice.",
				"Flag deadlines and required participants explicitly.",
			},
			Description: "Answers questions about IEP procedure, timelines and legal obligations.",
		},
		{
			ID:          "history",
			Name:        "History Agent",
			Title:       "Clinical Analyst",
			Intents:     []intent.Label{intent.History},
			Agent:       "history",
			Instruction: "You are a Clinical Analyst. Answer using the student's recorded history.",
			Guidelines: []string{
				"Only state facts present in the student context or conversation.",
				"Say so when the record does not answer the question.",
			},
			DefaultContext: "Student 'Alex Doe' has ADHD (Combined Type). Diagnosed 2023. Struggles with focus.",
			ContextKey:     "student_context",
			Description:    "Summarizes diagnoses, evaluations and prior interventions for the student.",
		},
		{
			ID:          "strategy",
			Name:        "Strategy Agent",
			Title:       "Empathetic Teacher",
			Intents:     []intent.Label{intent.Strategy},
			Agent:       "strategy",
			Instruction: "You are an Empathetic Teacher. Create a classroom strategy for the request.",
			Guidelines: []string{
				"Give concrete, classroom-ready steps.",
				"Keep the student's dignity and strengths at the center.",
			},
			Description: "Proposes accommodations and classroom strategies.",
		},
	}
}
