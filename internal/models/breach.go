package models

// BreachInfo is the result of a k-anonymity breach lookup
type BreachInfo struct {
	Compromised bool `json:"is_compromised"`
	Count       int  `json:"count"`
}
