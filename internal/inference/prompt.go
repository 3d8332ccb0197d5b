package inference

import (
	"strings"
	"text/template"

	"github.com/book-expert/ich-narrator/internal/guideline"
)

// Prompt audiences.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

const referenceBlock = `2022 Guideline for the Management of Patients With Spontaneous Intracerebral Hemorrhage: A Guideline From the American Heart Association/American Stroke Association
{{.Guideline}}

Clinical Trials:
{{.ClinicalTrials}}

`

const caseBlock = `Imaging findings: {{.Case.Inspection}}
Impression: {{.Case.Diagnosis}}
Medical history: {{.Case.CaseHistory}}
Laboratory Tests: {{.Case.Examination}}

CT Image Segmentation Results of Cerebral Hemorrhage:
Intraparenchymal hemorrhage: {{.Case.Vol1}}
Intraventricular hemorrhage: {{.Case.Vol2}}
Perihematomal edema: {{.Case.Vol3}}
`

const patientTemplate = `You are a medical agent specializing in explaining cerebral hemorrhage-related disease conditions and treatment plans in a gentle, clear, and empathetic manner to both patients and their families.
Based on the following available data (medical history, physical examinations, laboratory test results, CT reports, and segmentation results), you must strictly reference the "2022 Guideline for the Management of Patients With Spontaneous Intracerebral Hemorrhage" from the American Heart Association/American Stroke Association, as well as findings from major clinical trials including ENRICH, INTERACT3, SWITCH, and ANNEXA-I, to provide a synchronized communication and explanation to both the patient and their family.
Specific Requirements:
1. Start by addressing the patient directly, using simple, warm language to briefly explain what has happened and the main direction of treatment, helping the patient understand and feel reassured.
2. Then, address the family members, providing a more detailed explanation of the need for further examinations, the rationale behind treatment choices, potential risks, and rehabilitation expectations, so that the family can better support decision-making.
3. Throughout the communication, use language that is easy for non-medical individuals to understand; if medical terms must be used, provide a brief and clear explanation.
4. Maintain a tone that is scientific, authoritative, and positively encouraging.
5. Base all explanations strictly on the available data; do not fabricate or assume information. If uncertainties exist, state them transparently.
6. Avoid using absolute expressions such as "100%" or "definitely"; instead, prefer phrasing like "likely," "tends to," or "based on current evidence."
Suggested Output Structure:
1. Communication paragraph directed toward the patient
2. Supplementary explanation paragraph directed toward the family
3. Summary and encouragement paragraph

` + referenceBlock + `The patient's available information is as follows:
` + caseBlock

const doctorTemplate = `As a medical agent specializing in the diagnosis and treatment of cerebral hemorrhage, your task is to provide precise, evidence-based recommendations using only the available data: medical history, physical examinations, laboratory tests, CT reports, and CT segmentation results. No additional clinical information will be accessible.
When formulating treatment strategies, strictly reference the "2022 Guideline for the Management of Patients With Spontaneous Intracerebral Hemorrhage" from the American Heart Association/American Stroke Association, as well as findings from major clinical trials including ENRICH, INTERACT3, SWITCH, and ANNEXA-I.
Request for Recommendations:
1. Additional Testing Recommendations:
Identify any further diagnostic tests that are necessary for a comprehensive assessment of the patient's condition.
2. Treatment Recommendations:
Provide preliminary treatment suggestions, including pharmacological management, surgical intervention, or other measures, tailored to the patient's specific circumstances, and in strict accordance with the referenced guidelines and clinical trial data.
Additional Requirements:
1. All recommendations must rigorously adhere to the specified guideline and trial evidence.
2. Individual patient differences must be carefully considered to ensure that the recommendations are personalized and adaptable.
3. The recommendations should aim to optimize diagnostic efficiency and therapeutic outcomes.
4. It is critical to validate all available data during the management process. If patient data significantly deviate from guideline standards, for example a hematoma volume exceeding the specified 30–80 mL range (e.g., 80 mL), avoid uncritical application of guideline-based classifications. Conduct a critical appraisal before making recommendations.
5. Clearly indicate the source of each recommendation, specifying whether it is based on a particular guideline or a clinical trial result.

` + referenceBlock + `The available information for the patient is as follows:
` + caseBlock

var (
	patientPrompt = template.Must(template.New(RolePatient).Parse(patientTemplate))
	doctorPrompt  = template.Must(template.New(RoleDoctor).Parse(doctorTemplate))
)

// PromptBuilder renders the patient and doctor prompts for a case.
type PromptBuilder struct {
	guideline      string
	clinicalTrials string
}

// NewPromptBuilder grounds prompts in the embedded reference documents.
func NewPromptBuilder(repo *guideline.Repository) *PromptBuilder {
	return &PromptBuilder{
		guideline:      strings.TrimSpace(repo.Guideline().Body),
		clinicalTrials: strings.TrimSpace(repo.ClinicalTrials().Body),
	}
}

// Patient renders the empathetic explanation prompt.
func (b *PromptBuilder) Patient(c Case) string {
	return b.render(patientPrompt, c)
}

// Doctor renders the evidence-based recommendation prompt.
func (b *PromptBuilder) Doctor(c Case) string {
	return b.render(doctorPrompt, c)
}

func (b *PromptBuilder) render(tmpl *template.Template, c Case) string {
	var builder strings.Builder

	// Execute only fails on a write error, which strings.Builder never returns.
	_ = tmpl.Execute(&builder, struct {
		Guideline      string
		ClinicalTrials string
		Case           Case
	}{b.guideline, b.clinicalTrials, c})

	return builder.String()
}
