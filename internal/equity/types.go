package equity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShareClassType identifies the legal category of a share class.
type ShareClassType string

const (
	ClassQuota     ShareClassType = "QUOTA"
	ClassCommon    ShareClassType = "COMMON"
	ClassPreferred ShareClassType = "PREFERRED"
)

// AntiDilutionType selects the anti-dilution protection attached to a class.
type AntiDilutionType string

const (
	AntiDilutionNone            AntiDilutionType = "NONE"
	AntiDilutionFullRatchet     AntiDilutionType = "FULL_RATCHET"
	AntiDilutionWeightedAverage AntiDilutionType = "WEIGHTED_AVERAGE"
)

// ShareClass is the authoritative metadata record consulted by every
// ownership computation. totalIssued never exceeds totalAuthorized.
type ShareClass struct {
	ID                            string           `json:"id"`
	CompanyID                     string           `json:"company_id"`
	Name                          string           `json:"name"`
	Type                          ShareClassType   `json:"type"`
	TotalAuthorized               decimal.Decimal  `json:"total_authorized"`
	TotalIssued                   decimal.Decimal  `json:"total_issued"`
	VotesPerShare                 int64            `json:"votes_per_share"`
	LiquidationPreferenceMultiple decimal.Decimal  `json:"liquidation_preference_multiple"`
	ParticipatingRights           bool             `json:"participating_rights"`
	ParticipationCap              decimal.Decimal  `json:"participation_cap"`
	Seniority                     int              `json:"seniority"`
	ConversionRatio               decimal.Decimal  `json:"conversion_ratio"`
	AntiDilutionType              AntiDilutionType `json:"anti_dilution_type"`
	CreatedAt                     time.Time        `json:"created_at"`
}

// ShareholderType identifies the relationship of a holder to the company.
type ShareholderType string

const (
	HolderFounder   ShareholderType = "FOUNDER"
	HolderInvestor  ShareholderType = "INVESTOR"
	HolderEmployee  ShareholderType = "EMPLOYEE"
	HolderAdvisor   ShareholderType = "ADVISOR"
	HolderCorporate ShareholderType = "CORPORATE"
)

// ShareholderStatus is the lifecycle status of a shareholder record.
type ShareholderStatus string

const (
	HolderActive   ShareholderStatus = "ACTIVE"
	HolderInactive ShareholderStatus = "INACTIVE"
	HolderPending  ShareholderStatus = "PENDING"
)

// Shareholder owns zero or more ledger balances. Once it has any non-zero
// historical balance it is soft-deleted (set INACTIVE), never destroyed.
type Shareholder struct {
	ID        string            `json:"id"`
	CompanyID string            `json:"company_id"`
	Name      string            `json:"name"`
	Type      ShareholderType   `json:"type"`
	Status    ShareholderStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// TransactionType identifies the equity event a ledger transaction records.
type TransactionType string

const (
	TxIssuance     TransactionType = "ISSUANCE"
	TxTransfer     TransactionType = "TRANSFER"
	TxConversion   TransactionType = "CONVERSION"
	TxCancellation TransactionType = "CANCELLATION"
	TxSplit        TransactionType = "SPLIT"
)

// TransactionStatus is the workflow status of a ledger transaction. Only
// CONFIRMED transactions participate in ownership computation.
type TransactionStatus string

const (
	TxDraft           TransactionStatus = "DRAFT"
	TxPendingApproval TransactionStatus = "PENDING_APPROVAL"
	TxSubmitted       TransactionStatus = "SUBMITTED"
	TxConfirmed       TransactionStatus = "CONFIRMED"
	TxFailed          TransactionStatus = "FAILED"
	TxCancelled       TransactionStatus = "CANCELLED"
)

// Transaction is a single entry in the append-only equity ledger.
//
// FromShareholderID is empty for ISSUANCE, ToShareholderID is empty for
// CANCELLATION. For SPLIT, Quantity carries the split ratio and the
// shareholder fields are empty. For CONVERSION, SourceShareClassID and
// SourceQuantity describe the cancelled side; when a convertible instrument
// converts there is no source class and only the issuance side applies.
// A CONFIRMED transaction is immutable; corrections require a new, opposite
// transaction.
type Transaction struct {
	ID                 string            `json:"id"`
	CompanyID          string            `json:"company_id"`
	Type               TransactionType   `json:"type"`
	Status             TransactionStatus `json:"status"`
	FromShareholderID  string            `json:"from_shareholder_id,omitempty"`
	ToShareholderID    string            `json:"to_shareholder_id,omitempty"`
	ShareClassID       string            `json:"share_class_id"`
	SourceShareClassID string            `json:"source_share_class_id,omitempty"`
	Quantity           decimal.Decimal   `json:"quantity"`
	SourceQuantity     decimal.Decimal   `json:"source_quantity,omitempty"`
	PricePerShare      decimal.Decimal   `json:"price_per_share,omitempty"`
	CreatedBy          string            `json:"created_by"`
	CreatedAt          time.Time         `json:"created_at"`
	ConfirmedAt        time.Time         `json:"confirmed_at,omitempty"`
}

// TerminationPolicy selects what happens to unvested options on termination.
type TerminationPolicy string

const (
	TerminationForfeiture   TerminationPolicy = "FORFEITURE"
	TerminationAcceleration TerminationPolicy = "ACCELERATION"
	TerminationProRata      TerminationPolicy = "PRO_RATA"
)

// OptionPlanStatus is the lifecycle status of an option plan.
type OptionPlanStatus string

const (
	PlanActive     OptionPlanStatus = "ACTIVE"
	PlanClosed     OptionPlanStatus = "CLOSED"
	PlanTerminated OptionPlanStatus = "TERMINATED"
)

// OptionPlan reserves a pool of shares for option grants.
type OptionPlan struct {
	ID                 string            `json:"id"`
	CompanyID          string            `json:"company_id"`
	Name               string            `json:"name"`
	ShareClassID       string            `json:"share_class_id"`
	TotalPoolSize      decimal.Decimal   `json:"total_pool_size"`
	TerminationPolicy  TerminationPolicy `json:"termination_policy"`
	ExerciseWindowDays int               `json:"exercise_window_days"`
	Status             OptionPlanStatus  `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
}

// OptionGrantStatus is the lifecycle status of an option grant.
type OptionGrantStatus string

const (
	GrantActive    OptionGrantStatus = "ACTIVE"
	GrantForfeited OptionGrantStatus = "FORFEITED"
	GrantExpired   OptionGrantStatus = "EXPIRED"
	GrantExercised OptionGrantStatus = "EXERCISED"
)

// VestingSchedule describes time-based vesting: nothing vests before the
// cliff, then vesting accrues monthly until the full duration has elapsed.
type VestingSchedule struct {
	StartDate      time.Time `json:"start_date"`
	CliffMonths    int       `json:"cliff_months"`
	DurationMonths int       `json:"duration_months"`
}

// OptionGrant allocates part of a plan's pool to a shareholder. Exercised
// options become ordinary ISSUANCE transactions and leave the option domain.
type OptionGrant struct {
	ID            string            `json:"id"`
	PlanID        string            `json:"plan_id"`
	CompanyID     string            `json:"company_id"`
	ShareholderID string            `json:"shareholder_id"`
	Quantity      decimal.Decimal   `json:"quantity"`
	ExercisePrice decimal.Decimal   `json:"exercise_price"`
	Vesting       VestingSchedule   `json:"vesting"`
	Status        OptionGrantStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// InterestType selects how convertible interest accrues.
type InterestType string

const (
	InterestSimple   InterestType = "SIMPLE"
	InterestCompound InterestType = "COMPOUND"
)

// ConversionTrigger identifies the event that converts an instrument.
type ConversionTrigger string

const (
	TriggerQualifiedFinancing ConversionTrigger = "QUALIFIED_FINANCING"
	TriggerMaturity           ConversionTrigger = "MATURITY"
	TriggerNone               ConversionTrigger = "NONE"
)

// InstrumentStatus is the lifecycle status of a convertible instrument.
// Conversion is one-way: OUTSTANDING is the only status that participates
// in dilution, and the transitions out of it are irreversible.
type InstrumentStatus string

const (
	InstrumentOutstanding InstrumentStatus = "OUTSTANDING"
	InstrumentConverted   InstrumentStatus = "CONVERTED"
	InstrumentRedeemed    InstrumentStatus = "REDEEMED"
	InstrumentMatured     InstrumentStatus = "MATURED"
	InstrumentCancelled   InstrumentStatus = "CANCELLED"
)

// ConvertibleInstrument is a SAFE/convertible-note style instrument.
// AccruedInterest is always derived from issue date and never stored.
type ConvertibleInstrument struct {
	ID                          string            `json:"id"`
	CompanyID                   string            `json:"company_id"`
	HolderID                    string            `json:"holder_id"`
	PrincipalAmount             decimal.Decimal   `json:"principal_amount"`
	InterestRate                decimal.Decimal   `json:"interest_rate"`
	InterestType                InterestType      `json:"interest_type"`
	ValuationCap                decimal.Decimal   `json:"valuation_cap"`
	DiscountRate                decimal.Decimal   `json:"discount_rate"`
	QualifiedFinancingThreshold decimal.Decimal   `json:"qualified_financing_threshold"`
	ConversionTrigger           ConversionTrigger `json:"conversion_trigger"`
	TargetShareClassID          string            `json:"target_share_class_id"`
	AutoConvert                 bool              `json:"auto_convert"`
	MFNClause                   bool              `json:"mfn_clause"`
	Status                      InstrumentStatus  `json:"status"`
	IssuedAt                    time.Time         `json:"issued_at"`
	MaturityDate                time.Time         `json:"maturity_date,omitempty"`
	ConvertedAt                 time.Time         `json:"converted_at,omitempty"`
	ConversionTxID              string            `json:"conversion_tx_id,omitempty"`
}

// FundingRoundStatus is the lifecycle status of a funding round.
type FundingRoundStatus string

const (
	RoundDraft     FundingRoundStatus = "DRAFT"
	RoundOpen      FundingRoundStatus = "OPEN"
	RoundClosing   FundingRoundStatus = "CLOSING"
	RoundClosed    FundingRoundStatus = "CLOSED"
	RoundCancelled FundingRoundStatus = "CANCELLED"
)

// FundingRound records a priced financing. Closing a round is the usual
// trigger for convertible-instrument conversion at the round's price.
type FundingRound struct {
	ID                string             `json:"id"`
	CompanyID         string             `json:"company_id"`
	Name              string             `json:"name"`
	TargetAmount      decimal.Decimal    `json:"target_amount"`
	PreMoneyValuation decimal.Decimal    `json:"pre_money_valuation"`
	PricePerShare     decimal.Decimal    `json:"price_per_share"`
	ShareClassID      string             `json:"share_class_id"`
	Status            FundingRoundStatus `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	ClosedAt          time.Time          `json:"closed_at,omitempty"`
}

// CapTableSnapshot is an immutable, hash-chained point-in-time record of a
// company's cap table. Once created it is never mutated or deleted.
type CapTableSnapshot struct {
	ID                string          `json:"id"`
	CompanyID         string          `json:"company_id"`
	SnapshotDate      time.Time       `json:"snapshot_date"`
	TotalShares       decimal.Decimal `json:"total_shares"`
	TotalShareholders int             `json:"total_shareholders"`
	Trigger           string          `json:"trigger"`
	StateHash         string          `json:"state_hash"`
	PreviousHash      string          `json:"previous_hash"`
	CreatedAt         time.Time       `json:"created_at"`
}
