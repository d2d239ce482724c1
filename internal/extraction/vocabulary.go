package extraction

// DefaultVocabulary is the built-in medication list used when no external
// vocabulary file is configured.  Common generics and a few widespread
// brand names; deployments extend it via extraction.vocabulary_path.
func DefaultVocabulary() []string {
	return []string{
		"Paracetamol", "Acetaminophen", "Ibuprofen", "Aspirin",
		"Diclofenac", "Naproxen", "Tramadol", "Codeine",
		"Amoxicillin", "Azithromycin", "Ciprofloxacin", "Doxycycline",
		"Cephalexin", "Metronidazole", "Clindamycin", "Erythromycin",
		"Levofloxacin", "Augmentin",
		"Metformin", "Glimepiride", "Gliclazide", "Insulin",
		"Sitagliptin", "Empagliflozin",
		"Atorvastatin", "Rosuvastatin", "Simvastatin",
		"Amlodipine", "Losartan", "Telmisartan", "Lisinopril",
		"Enalapril", "Ramipril", "Metoprolol", "Atenolol",
		"Propranolol", "Carvedilol", "Hydrochlorothiazide",
		"Furosemide", "Spironolactone", "Clopidogrel", "Warfarin",
		"Omeprazole", "Pantoprazole", "Esomeprazole", "Rabeprazole",
		"Ranitidine", "Famotidine", "Ondansetron", "Domperidone",
		"Cetirizine", "Loratadine", "Fexofenadine", "Montelukast",
		"Salbutamol", "Budesonide", "Prednisolone", "Dexamethasone",
		"Levothyroxine", "Sertraline", "Fluoxetine", "Escitalopram",
		"Amitriptyline", "Alprazolam", "Clonazepam", "Zolpidem",
		"Gabapentin", "Pregabalin", "Levetiracetam", "Benadryl",
		"Vitamin D", "Folic Acid", "Ferrous Sulfate", "Calcium Carbonate",
	}
}
