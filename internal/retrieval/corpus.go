package retrieval

import "github.com/syedmozamilshah/healthverse/internal/triage"

// Case is one prior consultation in the reference corpus: a summary of the
// presentation and the specialist the case was ultimately referred to.
type Case struct {
	ID      string            `json:"id"`
	Summary string            `json:"summary"`
	Outcome triage.Specialist `json:"outcome"`
}

// Corpus returns the bundled ophthalmology case corpus. It backs the
// in-memory retriever directly and seeds the vector store via the seed
// command.
func Corpus() []Case {
	return []Case{
		{
			ID:      "refractive-errors",
			Summary: "Blurry vision caused by refractive errors such as myopia, hyperopia, or astigmatism; treated with corrective lenses or contact lenses prescribed after a routine vision exam.",
			Outcome: triage.Optometrist,
		},
		{
			ID:      "angle-closure-glaucoma",
			Summary: "Sudden onset of severe eye pain with redness, nausea, and vision loss indicating acute angle-closure glaucoma; a medical emergency requiring immediate specialist attention.",
			Outcome: triage.Ophthalmologist,
		},
		{
			ID:      "cataract",
			Summary: "Clouding of the natural lens with gradually worsening vision in an older patient; cataract surgery removed the cloudy lens and replaced it with an artificial intraocular lens.",
			Outcome: triage.OcularSurgeon,
		},
		{
			ID:      "digital-eye-strain",
			Summary: "Dry eyes, blurred vision and headaches from prolonged screen use; computer vision syndrome managed with specialized computer glasses and vision therapy exercises.",
			Outcome: triage.Optometrist,
		},
		{
			ID:      "diabetic-retinopathy",
			Summary: "Diabetic patient with blood vessel damage in the retina; regular dilated eye examinations caught diabetic retinopathy early enough for treatment to prevent vision loss.",
			Outcome: triage.Ophthalmologist,
		},
		{
			ID:      "frame-fitting",
			Summary: "New eyeglasses causing discomfort and slipping; facial measurements, frame adjustment and lens repositioning resolved the fitting problem.",
			Outcome: triage.Optician,
		},
		{
			ID:      "conjunctivitis",
			Summary: "Red, itchy eye with discharge from bacterial conjunctivitis; resolved with prescribed antibiotic drops after examination.",
			Outcome: triage.Ophthalmologist,
		},
		{
			ID:      "retinal-detachment",
			Summary: "Sudden flashing lights, a shower of floaters and a curtain over part of the visual field from retinal detachment; emergency surgical repair prevented permanent vision loss.",
			Outcome: triage.OcularSurgeon,
		},
		{
			ID:      "dry-eye",
			Summary: "Chronic burning sensation and fluctuating vision from dry eye syndrome; managed with artificial tears, prescription drops and lifestyle changes.",
			Outcome: triage.Optometrist,
		},
		{
			ID:      "macular-degeneration",
			Summary: "Older adult with distorted central vision from age-related macular degeneration; ongoing monitoring and injections preserved remaining sight.",
			Outcome: triage.Ophthalmologist,
		},
		{
			ID:      "contact-lens-complication",
			Summary: "Contact lens wearer with irritation and an early corneal ulcer from overwear; lens care retraining and a replacement schedule prevented recurrence.",
			Outcome: triage.Optometrist,
		},
		{
			ID:      "broken-frame",
			Summary: "Snapped temple arm on prescription glasses; frame repair and refitting with no change to the lens prescription.",
			Outcome: triage.Optician,
		},
	}
}
