package knowledge

import "github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"

func med(name, class string, aliases ...string) medical.KnowledgeBaseEntry {
	return medical.KnowledgeBaseEntry{
		CanonicalName: name,
		Aliases:       aliases,
		Category:      medical.CategoryMedication,
		Metadata:      map[string]string{"class": class},
	}
}

func entry(c medical.Category, name, class string, aliases ...string) medical.KnowledgeBaseEntry {
	return medical.KnowledgeBaseEntry{
		CanonicalName: name,
		Aliases:       aliases,
		Category:      c,
		Metadata:      map[string]string{"class": class},
	}
}

// Seed returns the built-in catalog used when no external knowledge base is
// configured. A fresh slice is returned on every call.
func Seed() []medical.KnowledgeBaseEntry {
	return []medical.KnowledgeBaseEntry{
		med("Amoxicillin", "Antibiotics", "amoxycillin", "amoxil"),
		med("Penicillin", "Antibiotics", "penicllin"),
		med("Cephalexin", "Antibiotics", "cefalexin", "keflex"),
		med("Tetracycline", "Antibiotics", "tetracyclin"),
		med("Azithromycin", "Antibiotics", "azithomycin", "zithromax"),
		med("Ciprofloxacin", "Antibiotics", "cipro"),
		med("Metronidazole", "Antibiotics", "flagyl"),

		med("Artemether", "Antimalarials", "artether", "coartem"),
		med("Quinine", "Antimalarials"),
		med("Chloroquine", "Antimalarials", "chloroquin"),
		med("Artemisinin", "Antimalarials"),

		med("Paracetamol", "Analgesics", "acetaminophen", "tylenol", "panadol"),
		med("Ibuprofen", "Analgesics", "advil", "brufen"),
		med("Aspirin", "Analgesics", "acetylsalicylic acid"),
		med("Diclofenac", "Analgesics", "voltaren"),

		med("Cetirizine", "Antihistamines", "zyrtec"),
		med("Loratadine", "Antihistamines", "claritin"),

		med("Metformin", "Antidiabetics", "glucophage"),
		med("Insulin", "Antidiabetics"),
		med("Lisinopril", "Antihypertensives", "prinivil"),
		med("Amlodipine", "Antihypertensives", "norvasc"),
		med("Atorvastatin", "Statins", "lipitor"),
		med("Omeprazole", "Antacids", "prilosec"),
		med("Salbutamol", "Bronchodilators", "albuterol", "ventolin"),
		med("Oral Rehydration Salts", "Rehydration", "ors"),

		entry(medical.CategoryCondition, "Malaria", "Infectious Disease"),
		entry(medical.CategoryCondition, "Infection", "Condition"),
		entry(medical.CategoryCondition, "Typhoid", "Infectious Disease", "typhoid fever"),
		entry(medical.CategoryCondition, "Tuberculosis", "Infectious Disease", "tb"),
		entry(medical.CategoryCondition, "Pneumonia", "Respiratory Disease"),
		entry(medical.CategoryCondition, "Diabetes", "Chronic Disease", "diabetes mellitus"),
		entry(medical.CategoryCondition, "Hypertension", "Chronic Disease", "high blood pressure"),
		entry(medical.CategoryCondition, "Asthma", "Respiratory Disease"),
		entry(medical.CategoryCondition, "Influenza", "Infectious Disease", "flu"),

		entry(medical.CategorySymptom, "Fever", "Symptom"),
		entry(medical.CategorySymptom, "Cough", "Symptom"),
		entry(medical.CategorySymptom, "Headache", "Symptom"),
		entry(medical.CategorySymptom, "Pain", "Symptom"),
		entry(medical.CategorySymptom, "Nausea", "Symptom"),
		entry(medical.CategorySymptom, "Vomiting", "Symptom"),
		entry(medical.CategorySymptom, "Diarrhea", "Symptom", "diarrhoea"),
		entry(medical.CategorySymptom, "Dizziness", "Symptom"),
		entry(medical.CategorySymptom, "Rash", "Symptom"),
		entry(medical.CategorySymptom, "Fatigue", "Symptom", "tiredness"),
		entry(medical.CategorySymptom, "Drowsiness", "Side Effect", "sleepiness"),

		entry(medical.CategoryFacility, "Pharmacy", "Facility", "drug store", "chemist"),
		entry(medical.CategoryFacility, "Hospital", "Facility"),
		entry(medical.CategoryFacility, "Clinic", "Facility"),
		entry(medical.CategoryFacility, "Health Center", "Facility", "health centre"),
	}
}
