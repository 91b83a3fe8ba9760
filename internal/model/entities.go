// Package model defines the canonical local entities of the rental ledger
// and the tolerant decoding helpers used at every external boundary.
//
// Normalized entities (units, tenancies, readings, ...) are owned by the
// mutation engine; derived entities (bill lines, the tenant directory
// projection) are recomputed from them and never independently
// authoritative.
package model

import (
	"time"
)

// TenancyStatus is the lifecycle state of a tenancy.
type TenancyStatus string

const (
	TenancyActive TenancyStatus = "ACTIVE"
	TenancyEnded  TenancyStatus = "ENDED"
)

// Unit is a rentable flat within a wing.
type Unit struct {
	UnitID           string `json:"unitId"`
	Wing             string `json:"wing"`
	UnitNumber       string `json:"unitNumber"`
	Floor            string `json:"floor"`
	Direction        string `json:"direction"`
	MeterNumber      string `json:"meterNumber"`
	LandlordID       string `json:"landlordId"`
	IsOccupied       bool   `json:"isOccupied"`
	CurrentTenancyID string `json:"currentTenancyId"`
}

// Landlord is a unit owner.
type Landlord struct {
	LandlordID string `json:"landlordId"`
	Name       string `json:"name"`
	Aadhaar    string `json:"aadhaar"`
	Address    string `json:"address"`
}

// Tenancy links a tenant to a unit for a period.
type Tenancy struct {
	TenancyID          string        `json:"tenancyId"`
	TenantID           string        `json:"tenantId"`
	UnitID             string        `json:"unitId"`
	LandlordID         string        `json:"landlordId"`
	Status             TenancyStatus `json:"status"`
	CommencementDate   string        `json:"commencementDate"`
	EndDate            string        `json:"endDate"`
	RentAmount         float64       `json:"rentAmount"`
	PayableDate        string        `json:"payableDate"`
	RentIncreaseAmount float64       `json:"rentIncreaseAmount"`
}

// RentRevision is a rent change effective from a given month. The current
// rent for a tenancy is the revision with the greatest (effectiveMonth,
// createdAt) pair.
type RentRevision struct {
	RevisionID     string  `json:"revisionId"`
	TenancyID      string  `json:"tenancyId"`
	EffectiveMonth string  `json:"effectiveMonth"`
	RentAmount     float64 `json:"rentAmount"`
	CreatedAt      string  `json:"createdAt"`
}

// WingMonthlyConfig holds the per-wing billing inputs for one month.
type WingMonthlyConfig struct {
	MonthKey        string  `json:"monthKey"`
	Wing            string  `json:"wing"`
	ElectricityRate float64 `json:"electricityRate"`
	SweepingPerFlat float64 `json:"sweepingPerFlat"`
	MotorPrev       float64 `json:"motorPrev"`
	MotorNew        float64 `json:"motorNew"`
	MotorUnits      float64 `json:"motorUnits"`
}

// TenantMonthlyReading is a tenancy's meter reading for one month.
type TenantMonthlyReading struct {
	TenancyID    string  `json:"tenancyId"`
	MonthKey     string  `json:"monthKey"`
	PrevReading  float64 `json:"prevReading"`
	NewReading   float64 `json:"newReading"`
	Included     bool    `json:"included"`
	OverrideRent float64 `json:"overrideRent"`
	HasOverride  bool    `json:"hasOverride"`
}

// BillLine is the derived bill for one tenancy in one month, unique per
// (monthKey, tenancyId).
type BillLine struct {
	BillLineID        string  `json:"billLineId"`
	MonthKey          string  `json:"monthKey"`
	TenancyID         string  `json:"tenancyId"`
	RentAmount        float64 `json:"rentAmount"`
	ElectricityAmount float64 `json:"electricityAmount"`
	MotorShareAmount  float64 `json:"motorShareAmount"`
	SweepAmount       float64 `json:"sweepAmount"`
	TotalAmount       float64 `json:"totalAmount"`
	AmountPaid        float64 `json:"amountPaid"`
	IsPaid            bool    `json:"isPaid"`
	RemainingAmount   float64 `json:"remainingAmount"`
}

// Payment is money received against a bill line.
type Payment struct {
	ID           string  `json:"id"`
	BillLineID   string  `json:"billLineId"`
	TenancyID    string  `json:"tenancyId"`
	Amount       float64 `json:"amount"`
	Date         string  `json:"date"`
	Mode         string  `json:"mode"`
	AttachmentID string  `json:"attachmentId"`
	CreatedAt    string  `json:"createdAt"`
}

// QueueJob is a pending remote write, replayed strictly in id order.
type QueueJob struct {
	ID         int64             `json:"id"`
	Action     string            `json:"action"`
	Method     string            `json:"method"`
	Params     map[string]string `json:"params,omitempty"`
	Payload    Record            `json:"payload,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// UnitFromRecord decodes a unit tolerating both field spellings.
func UnitFromRecord(r Record) Unit {
	return Unit{
		UnitID:           r.Str("unitId"),
		Wing:             r.Str("wing"),
		UnitNumber:       r.Str("unitNumber"),
		Floor:            r.Str("floor"),
		Direction:        r.Str("direction"),
		MeterNumber:      r.Str("meterNumber"),
		LandlordID:       r.Str("landlordId"),
		IsOccupied:       r.Bool("isOccupied"),
		CurrentTenancyID: r.Str("currentTenancyId"),
	}
}

// TenancyFromRecord decodes a tenancy tolerating both field spellings.
func TenancyFromRecord(r Record) Tenancy {
	status := TenancyStatus(r.Str("status"))
	if status == "" {
		status = TenancyActive
	}
	return Tenancy{
		TenancyID:          r.Str("tenancyId"),
		TenantID:           r.Str("tenantId"),
		UnitID:             r.Str("unitId"),
		LandlordID:         r.Str("landlordId"),
		Status:             status,
		CommencementDate:   r.Str("commencementDate"),
		EndDate:            r.Str("endDate"),
		RentAmount:         r.Num("rentAmount"),
		PayableDate:        r.Str("payableDate"),
		RentIncreaseAmount: r.Num("rentIncreaseAmount"),
	}
}

// RevisionFromRecord decodes a rent revision tolerating both spellings.
func RevisionFromRecord(r Record) RentRevision {
	return RentRevision{
		RevisionID:     r.Str("revisionId"),
		TenancyID:      r.Str("tenancyId"),
		EffectiveMonth: r.Str("effectiveMonth"),
		RentAmount:     r.Num("rentAmount"),
		CreatedAt:      r.Str("createdAt"),
	}
}

// WingConfigFromRecord decodes a wing monthly config.
func WingConfigFromRecord(r Record) WingMonthlyConfig {
	return WingMonthlyConfig{
		MonthKey:        r.Str("monthKey"),
		Wing:            r.Str("wing"),
		ElectricityRate: r.Num("electricityRate"),
		SweepingPerFlat: r.Num("sweepingPerFlat"),
		MotorPrev:       r.Num("motorPrev"),
		MotorNew:        r.Num("motorNew"),
		MotorUnits:      r.Num("motorUnits"),
	}
}

// ReadingFromRecord decodes a tenant monthly reading.
func ReadingFromRecord(r Record) TenantMonthlyReading {
	included := true
	if r.Has("included") {
		included = r.Bool("included")
	}
	return TenantMonthlyReading{
		TenancyID:    r.Str("tenancyId"),
		MonthKey:     r.Str("monthKey"),
		PrevReading:  r.Num("prevReading"),
		NewReading:   r.Num("newReading"),
		Included:     included,
		OverrideRent: r.Num("overrideRent"),
		HasOverride:  r.Has("overrideRent") && r.Str("overrideRent") != "",
	}
}

// BillLineFromRecord decodes a bill line.
func BillLineFromRecord(r Record) BillLine {
	return BillLine{
		BillLineID:        r.Str("billLineId"),
		MonthKey:          r.Str("monthKey"),
		TenancyID:         r.Str("tenancyId"),
		RentAmount:        r.Num("rentAmount"),
		ElectricityAmount: r.Num("electricityAmount"),
		MotorShareAmount:  r.Num("motorShareAmount"),
		SweepAmount:       r.Num("sweepAmount"),
		TotalAmount:       r.Num("totalAmount"),
		AmountPaid:        r.Num("amountPaid"),
		IsPaid:            r.Bool("isPaid"),
		RemainingAmount:   r.Num("remainingAmount"),
	}
}

// PaymentFromRecord decodes a payment.
func PaymentFromRecord(r Record) Payment {
	return Payment{
		ID:           r.Str("id"),
		BillLineID:   r.Str("billLineId"),
		TenancyID:    r.Str("tenancyId"),
		Amount:       r.Num("amount"),
		Date:         r.Str("date"),
		Mode:         r.Str("mode"),
		AttachmentID: r.Str("attachmentId"),
		CreatedAt:    r.Str("createdAt"),
	}
}
