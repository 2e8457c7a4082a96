package openapi

type schema = map[string]interface{}

func ref(name string) schema {
	return schema{"$ref": "#/components/schemas/" + name}
}

func arrayOf(items schema) schema {
	return schema{"type": "array", "items": items}
}

func str() schema { return schema{"type": "string"} }

func strFormat(format string) schema { return schema{"type": "string", "format": format} }

func enum(values ...string) schema { return schema{"type": "string", "enum": values} }

func object(props schema, required ...string) schema {
	s := schema{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// buildComponentSchemas returns the data type, Bundle, OperationOutcome and
// per resource schemas.
func buildComponentSchemas(resourceTypes []string) map[string]interface{} {
	schemas := map[string]interface{}{
		"Meta": object(schema{
			"versionId":   str(),
			"lastUpdated": strFormat("date-time"),
			"profile":     arrayOf(strFormat("uri")),
		}),
		"Coding": object(schema{
			"system":  strFormat("uri"),
			"code":    str(),
			"display": str(),
		}),
		"CodeableConcept": object(schema{
			"coding": arrayOf(ref("Coding")),
			"text":   str(),
		}),
		"Reference": object(schema{
			"reference": schema{"type": "string", "description": "Local reference Type/uuid", "example": "Patient/0b3e6a52-58c4-4d2e-9e40-2a1d1e7a8c11"},
			"type":      str(),
			"display":   str(),
		}),
		"Identifier": object(schema{
			"use":    enum("usual", "official", "temp", "secondary", "old"),
			"system": schema{"type": "string", "format": "uri", "example": "http://fhir.nl/fhir/NamingSystem/bsn"},
			"value":  str(),
		}),
		"HumanName": object(schema{
			"use":    enum("usual", "official", "temp", "nickname", "anonymous", "old", "maiden"),
			"text":   str(),
			"family": str(),
			"given":  arrayOf(str()),
			"prefix": arrayOf(str()),
		}),
		"Address": object(schema{
			"use":        enum("home", "work", "temp", "old", "billing"),
			"line":       arrayOf(str()),
			"city":       str(),
			"postalCode": str(),
			"country":    str(),
		}),
		"ContactPoint": object(schema{
			"system": enum("phone", "fax", "email", "pager", "url", "sms", "other"),
			"value":  str(),
			"use":    enum("home", "work", "temp", "old", "mobile"),
		}),
		"Period": object(schema{
			"start": strFormat("date-time"),
			"end":   strFormat("date-time"),
		}),
		"Quantity": object(schema{
			"value":      schema{"type": "number"},
			"comparator": enum("<", "<=", ">=", ">"),
			"unit":       str(),
			"system":     strFormat("uri"),
			"code":       str(),
		}),
		"Bundle": object(schema{
			"resourceType": enum("Bundle"),
			"type":         enum("searchset"),
			"total":        schema{"type": "integer", "minimum": 0},
			"link": arrayOf(object(schema{
				"relation": enum("self", "next", "previous"),
				"url":      strFormat("uri"),
			})),
			"entry": arrayOf(ref("BundleEntry")),
		}, "resourceType", "type"),
		"BundleEntry": object(schema{
			"fullUrl":  strFormat("uri"),
			"resource": schema{"type": "object", "description": "The matching FHIR resource"},
			"search":   object(schema{"mode": enum("match", "outcome")}),
		}),
		"OperationOutcome": object(schema{
			"resourceType": enum("OperationOutcome"),
			"issue": arrayOf(object(schema{
				"severity":    enum("fatal", "error", "warning", "information"),
				"code":        str(),
				"diagnostics": str(),
				"expression":  arrayOf(str()),
			}, "severity", "code")),
		}, "resourceType", "issue"),
	}

	for _, rt := range resourceTypes {
		if _, exists := schemas[rt]; !exists {
			schemas[rt] = buildResourceSchema(rt)
		}
	}
	return schemas
}

type resourceSchema struct {
	props    schema
	required []string
}

// resourceSchemas lists the elements the server indexes or validates.
// Other elements of the FHIR resource are accepted and stored unchanged.
var resourceSchemas = map[string]resourceSchema{
	"Patient": {props: schema{
		"active":               schema{"type": "boolean"},
		"identifier":           arrayOf(ref("Identifier")),
		"name":                 arrayOf(ref("HumanName")),
		"telecom":              arrayOf(ref("ContactPoint")),
		"gender":               enum("male", "female", "other", "unknown"),
		"birthDate":            strFormat("date"),
		"address":              arrayOf(ref("Address")),
		"generalPractitioner":  arrayOf(ref("Reference")),
		"managingOrganization": ref("Reference"),
	}},
	"Practitioner": {props: schema{
		"active":     schema{"type": "boolean"},
		"identifier": arrayOf(ref("Identifier")),
		"name":       arrayOf(ref("HumanName")),
		"telecom":    arrayOf(ref("ContactPoint")),
		"gender":     enum("male", "female", "other", "unknown"),
	}, required: []string{"name"}},
	"Organization": {props: schema{
		"active":     schema{"type": "boolean"},
		"identifier": arrayOf(ref("Identifier")),
		"type":       arrayOf(ref("CodeableConcept")),
		"name":       str(),
		"partOf":     ref("Reference"),
		"telecom":    arrayOf(ref("ContactPoint")),
		"address":    arrayOf(ref("Address")),
	}},
	"Observation": {props: schema{
		"status":            enum("registered", "preliminary", "final", "amended", "corrected", "cancelled", "entered-in-error", "unknown"),
		"category":          arrayOf(ref("CodeableConcept")),
		"code":              ref("CodeableConcept"),
		"subject":           ref("Reference"),
		"encounter":         ref("Reference"),
		"effectiveDateTime": strFormat("date-time"),
		"effectivePeriod":   ref("Period"),
		"performer":         arrayOf(ref("Reference")),
		"valueQuantity":     ref("Quantity"),
		"component": arrayOf(object(schema{
			"code":          ref("CodeableConcept"),
			"valueQuantity": ref("Quantity"),
		})),
	}, required: []string{"status", "code", "subject"}},
	"Condition": {props: schema{
		"clinicalStatus":     ref("CodeableConcept"),
		"verificationStatus": ref("CodeableConcept"),
		"category":           arrayOf(ref("CodeableConcept")),
		"code":               ref("CodeableConcept"),
		"subject":            ref("Reference"),
		"encounter":          ref("Reference"),
		"onsetDateTime":      strFormat("date-time"),
		"recordedDate":       strFormat("date-time"),
		"asserter":           ref("Reference"),
		"recorder":           ref("Reference"),
	}, required: []string{"code", "subject"}},
	"AllergyIntolerance": {props: schema{
		"clinicalStatus":     ref("CodeableConcept"),
		"verificationStatus": ref("CodeableConcept"),
		"category":           arrayOf(enum("food", "medication", "environment", "biologic")),
		"criticality":        enum("low", "high", "unable-to-assess"),
		"code":               ref("CodeableConcept"),
		"patient":            ref("Reference"),
		"encounter":          ref("Reference"),
		"onsetDateTime":      strFormat("date-time"),
		"recordedDate":       strFormat("date-time"),
		"recorder":           ref("Reference"),
	}, required: []string{"code", "patient"}},
	"MedicationRequest": {props: schema{
		"status":                    enum("active", "on-hold", "cancelled", "completed", "entered-in-error", "stopped", "draft", "unknown"),
		"intent":                    enum("proposal", "plan", "order", "original-order", "reflex-order", "filler-order", "instance-order", "option"),
		"medicationCodeableConcept": ref("CodeableConcept"),
		"medicationReference":       ref("Reference"),
		"subject":                   ref("Reference"),
		"encounter":                 ref("Reference"),
		"authoredOn":                strFormat("date-time"),
		"requester":                 ref("Reference"),
		"dosageInstruction":         arrayOf(schema{"type": "object"}),
	}, required: []string{"status", "intent", "subject"}},
	"Encounter": {props: schema{
		"status":  enum("planned", "arrived", "triaged", "in-progress", "onleave", "finished", "cancelled", "entered-in-error", "unknown"),
		"class":   ref("Coding"),
		"type":    arrayOf(ref("CodeableConcept")),
		"subject": ref("Reference"),
		"participant": arrayOf(object(schema{
			"type":       arrayOf(ref("CodeableConcept")),
			"individual": ref("Reference"),
		})),
		"period":          ref("Period"),
		"serviceProvider": ref("Reference"),
	}, required: []string{"status", "class", "subject"}},
}

// buildResourceSchema returns the schema of resourceType. Unknown types
// only get resourceType, id and meta.
func buildResourceSchema(resourceType string) map[string]interface{} {
	props := schema{
		"resourceType": enum(resourceType),
		"id":           strFormat("uuid"),
		"meta":         ref("Meta"),
	}
	rs := resourceSchemas[resourceType]
	for k, v := range rs.props {
		props[k] = v
	}
	return object(props, append([]string{"resourceType"}, rs.required...)...)
}
