package resume

// Sample returns a filled document used to preview catalog templates.
func Sample() map[string]any {
	return map[string]any{
		"profile": map[string]any{
			"name":  "Awa Mensah",
			"title": "Cheffe de projet digital",
			"contacts": map[string]any{
				"email":    "awa.mensah@example.com",
				"phone":    "+229 97 00 00 00",
				"location": "Cotonou, Bénin",
				"linkedin": "linkedin.com/in/awamensah",
			},
		},
		"summary": "Cheffe de projet avec huit ans d'expérience dans la conduite de produits web et mobiles.",
		"experience": []any{
			map[string]any{
				"company": "Studio Lagune",
				"role":    "Cheffe de projet",
				"start":   "2019",
				"end":     "Aujourd'hui",
				"bullets": []any{
					"Pilotage de douze lancements produit",
					"Réduction de 30% des délais de livraison",
				},
			},
		},
		"education": []any{
			map[string]any{"school": "Université d'Abomey-Calavi", "degree": "Master Informatique", "year": "2016"},
		},
		"skills": map[string]any{
			"groups": []any{
				map[string]any{"label": "Gestion", "items": []any{"Scrum", "Kanban", "Budget"}},
				map[string]any{"label": "Outils", "items": []any{"Jira", "Figma"}},
			},
		},
	}
}
