package edgar

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"
)

// Form4 represents an SEC Form 4 insider trading filing.
// Only the parts the transaction normalizer reads are modeled; derivative
// tables are left unparsed.
type Form4 struct {
	XMLName            xml.Name            `xml:"ownershipDocument"`
	SchemaVersion      string              `xml:"schemaVersion"`
	DocumentType       string              `xml:"documentType"`
	PeriodOfReport     string              `xml:"periodOfReport"`
	Issuer             Issuer              `xml:"issuer"`
	ReportingOwners    []ReportingOwner    `xml:"reportingOwner"`
	NonDerivativeTable *NonDerivativeTable `xml:"nonDerivativeTable"`
}

// Issuer represents the company whose stock is being traded
type Issuer struct {
	CIK           string `xml:"issuerCik"`
	Name          string `xml:"issuerName"`
	TradingSymbol string `xml:"issuerTradingSymbol"`
}

// ReportingOwner represents an insider filing the Form 4
type ReportingOwner struct {
	ID           OwnerID      `xml:"reportingOwnerId"`
	Relationship Relationship `xml:"reportingOwnerRelationship"`
}

type OwnerID struct {
	CIK  string `xml:"rptOwnerCik"`
	Name string `xml:"rptOwnerName"`
}

type Relationship struct {
	IsDirector        Flag   `xml:"isDirector"`
	IsOfficer         Flag   `xml:"isOfficer"`
	IsTenPercentOwner Flag   `xml:"isTenPercentOwner"`
	IsOther           Flag   `xml:"isOther"`
	OfficerTitle      string `xml:"officerTitle"`
	OtherText         string `xml:"otherText"`
}

// Flag is an XML boolean as filers write it: "1", "0", "true", "false" or empty.
type Flag string

// Set reports whether the flag is present and true.
func (f Flag) Set() bool {
	switch strings.ToLower(strings.TrimSpace(string(f))) {
	case "1", "true":
		return true
	}
	return false
}

// NonDerivativeTable contains common stock transactions
type NonDerivativeTable struct {
	Transactions []NonDerivativeTransaction `xml:"nonDerivativeTransaction"`
}

// NonDerivativeTransaction represents a stock purchase, sale, or grant
type NonDerivativeTransaction struct {
	SecurityTitle   string             `xml:"securityTitle>value"`
	TransactionDate string             `xml:"transactionDate>value"`
	Coding          TransactionCoding  `xml:"transactionCoding"`
	Amounts         TransactionAmounts `xml:"transactionAmounts"`
}

type TransactionCoding struct {
	FormType string `xml:"transactionFormType"`
	Code     string `xml:"transactionCode"`
}

type TransactionAmounts struct {
	Shares           Value  `xml:"transactionShares"`
	PricePerShare    Value  `xml:"transactionPricePerShare"`
	AcquiredDisposed string `xml:"transactionAcquiredDisposedCode>value"`
}

type Value struct {
	Value      string     `xml:"value"`
	FootnoteID FootnoteID `xml:"footnoteId"`
}

type FootnoteID struct {
	ID string `xml:"id,attr"`
}

// RawTransaction is a non-derivative transaction as written in the document.
// Empty strings mean the element was absent.
type RawTransaction struct {
	Code   string
	Date   string
	Shares string
	Price  string
}

// Raw returns the trimmed text fields the normalizer works from.
func (t NonDerivativeTransaction) Raw() RawTransaction {
	return RawTransaction{
		Code:   strings.TrimSpace(t.Coding.Code),
		Date:   strings.TrimSpace(t.TransactionDate),
		Shares: strings.TrimSpace(t.Amounts.Shares.Value),
		Price:  strings.TrimSpace(t.Amounts.PricePerShare.Value),
	}
}

// Owner is the reporting owner as the normalizer records it.
type Owner struct {
	Name  *string
	Title *string
}

// Parse unmarshals Form 4 XML into a Form4 struct.
// Documents declaring a non-UTF-8 encoding are transcoded.
func Parse(data []byte) (*Form4, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	// an XML declaration is only legal at offset zero
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var form4 Form4
	if err := dec.Decode(&form4); err != nil {
		return nil, err
	}
	if dt := strings.TrimSpace(form4.DocumentType); dt != "" && dt != FormType4 && dt != FormType4+"/A" {
		return nil, fmt.Errorf("document type %q is not a Form 4", dt)
	}
	return &form4, nil
}

// NonDerivativeTransactions returns the document's non-derivative
// transactions. An absent table yields an empty slice, never nil.
func (f *Form4) NonDerivativeTransactions() []NonDerivativeTransaction {
	if f.NonDerivativeTable == nil || len(f.NonDerivativeTable.Transactions) == 0 {
		return []NonDerivativeTransaction{}
	}
	return f.NonDerivativeTable.Transactions
}

// Owner returns the first reporting owner's name and title. Joint filings
// list several owners; the first is the one the filing is attributed to.
func (f *Form4) Owner() Owner {
	if len(f.ReportingOwners) == 0 {
		return Owner{}
	}
	ro := f.ReportingOwners[0]
	var owner Owner
	if name := NormalizeName(ro.ID.Name); name != "" {
		owner.Name = &name
	}
	if title := ro.Relationship.Title(); title != "" {
		owner.Title = &title
	}
	return owner
}

// Title returns the officer title, or a label built from the relationship
// flags when the owner is not an officer with a stated title.
func (r Relationship) Title() string {
	if t := NormalizeName(r.OfficerTitle); t != "" {
		return t
	}
	var labels []string
	if r.IsDirector.Set() {
		labels = append(labels, "Director")
	}
	if r.IsOfficer.Set() {
		labels = append(labels, "Officer")
	}
	if r.IsTenPercentOwner.Set() {
		labels = append(labels, "10% Owner")
	}
	if r.IsOther.Set() {
		if t := NormalizeName(r.OtherText); t != "" {
			labels = append(labels, t)
		} else {
			labels = append(labels, "Other")
		}
	}
	return strings.Join(labels, ", ")
}

// TransactionCodeDescription returns human-readable transaction code
func TransactionCodeDescription(code string) string {
	descriptions := map[string]string{
		"P": "Open Market Purchase",
		"S": "Open Market Sale",
		"A": "Grant, Award or Other Acquisition",
		"D": "Disposition to the Issuer",
		"F": "Payment of Exercise Price or Tax Liability",
		"G": "Gift",
		"M": "Exercise or Conversion of Derivative Security",
		"C": "Conversion of Derivative Security",
		"X": "Exercise of In-the-Money or At-the-Money Derivative Security",
	}
	return descriptions[code]
}
