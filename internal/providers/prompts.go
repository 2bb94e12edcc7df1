package providers

import (
	"fmt"
	"strings"
)

// Every doc type shares the same output contract; the per-type section only
// steers which entities and relationships the model should look for.
const outputContract = `Return a valid JSON object with this exact structure:
{
  "entities": [
    {"name": "entity name", "type": "EntityType", "description": "brief description"}
  ],
  "relationships": [
    {"source": "entity name 1", "target": "entity name 2", "type": "RELATIONSHIP_TYPE"}
  ]
}

IMPORTANT:
- Every entity MUST have "name", "type", and "description"
- The "type" field should be a single word (e.g., Person, Organization, Location, Concept, Product, Event, Date)
- Relationship "source" and "target" MUST refer to extracted entity names
- Return ONLY valid JSON, no markdown, no extra text
- If no entities are found, return {"entities": [], "relationships": []}`

var systemPrompts = map[string]string{
	"generic": `You are an expert at extracting information and building knowledge graphs.
Extract ALL entities and relationships from the text, being as comprehensive as possible.
Extract EVERY entity mentioned, including people, organizations, locations, concepts, products, events and dates, plus ALL relationships between them, including implicit ones.

` + outputContract,

	"legal": `You are an expert at extracting legal information and building knowledge graphs.
Extract entities and relationships from legal documents.

Entity types to extract: Person (plaintiffs, defendants, witnesses, judges), Organization (companies, law firms, agencies), LegalCase, Law, Clause, Date, Location (jurisdictions, courts).
Relationship types: PARTY_IN, REPRESENTED_BY, CITES, VIOLATES, FILED_IN, DECIDED_BY.

` + outputContract,

	"medical": `You are an expert at extracting medical information and building knowledge graphs.
Extract entities and relationships from medical documents.

Entity types to extract: Patient, Doctor, Disease (conditions, symptoms), Medication, Procedure, Organization (hospitals, clinics, labs), Date.
Relationship types: HAS_SYMPTOM, DIAGNOSED_WITH, PRESCRIBED, TREATED_WITH, WORKS_AT, TREATS, CAUSES.

` + outputContract,

	"technical": `You are an expert at extracting technical information and building knowledge graphs.
Extract entities and relationships from technical documents.

Entity types to extract: Technology, Component, System, Person, Organization, Concept, Version.
Relationship types: USES, IMPLEMENTS, DEPENDS_ON, CREATED_BY, PART_OF, COMPATIBLE_WITH, EXTENDS.

` + outputContract,

	"financial": `You are an expert at extracting financial information and building knowledge graphs.
Extract entities and relationships from financial documents.

Entity types to extract: Company, Person (executives, investors, analysts), Asset, Transaction, Market, Currency, Date.
Relationship types: OWNS, TRADES, ACQUIRES, INVESTS_IN, MANAGES, REPORTS_TO, VALUED_AT.

` + outputContract,

	"aesthetics": `Extract entities and relationships from this aesthetic/beauty text.
Focus on: procedures, treatments, products, ingredients, body parts, conditions, professionals, clinics, results.
Extract ALL entities and relationships.

` + outputContract,

	"health": `Extract entities and relationships from this health/wellness text.
Focus on: conditions, diseases, symptoms, treatments, medications, professionals, facilities, lifestyle factors.
Extract ALL entities and relationships.

` + outputContract,

	"it": `Extract entities and relationships from this IT/technology text.
Focus on: languages, frameworks, databases, tools, architectures, services, infrastructure, security, teams, projects.
Extract ALL entities and relationships.

` + outputContract,
}

// ExtractionPrompt renders the (system, user) pair for one chunk. Unknown
// doc types fall back to the generic prompt.
func ExtractionPrompt(docType string, chunkText string) (system string, user string) {
	system, ok := systemPrompts[strings.ToLower(strings.TrimSpace(docType))]
	if !ok {
		system = systemPrompts["generic"]
	}
	user = fmt.Sprintf("Extract entities and relationships from the following text:\n\n%s", chunkText)
	return system, user
}

// RepairPrompt asks the model to re-emit its malformed output as valid JSON.
func RepairPrompt(badOutput string) (system string, user string) {
	system = "You fix malformed JSON. " + outputContract
	user = fmt.Sprintf("The following output was supposed to match the JSON structure above but failed to parse. Re-emit it as valid JSON, preserving the extracted content:\n\n%s", badOutput)
	return system, user
}
