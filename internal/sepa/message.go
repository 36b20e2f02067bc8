// =============================================================================
// SEPA XML Converter - Message Builder
// =============================================================================
//
// This module assembles validated transactions into one ISO 20022
// pain.008.001.02 customer direct debit initiation.
//
// XML STRUCTURE:
//
//   <Document xmlns="urn:iso:std:iso:20022:tech:xsd:pain.008.001.02" ...>
//     <CstmrDrctDbtInitn>
//       <GrpHdr>         MsgId, CreDtTm, NbOfTxs, CtrlSum, InitgPty/Nm
//       <PmtInf>         PmtInfId, PmtMtd=DD, NbOfTxs, CtrlSum, PmtTpInf,
//                        ReqdColltnDt, Cdtr, CdtrAcct, CdtrAgt, ChrgBr=SLEV,
//                        CdtrSchmeId
//         <DrctDbtTxInf> one per transaction
//       </PmtInf>
//     </CstmrDrctDbtInitn>
//   </Document>
//
// A message has exactly one payment information block and uses EUR only.
//
// =============================================================================

package sepa

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ydmw74/sepa-xml-converter/internal/types"
	"github.com/ydmw74/sepa-xml-converter/internal/xmlwriter"
)

// =============================================================================
// SCHEMA CONSTANTS
// =============================================================================

const (
	Namespace      = "urn:iso:std:iso:20022:tech:xsd:pain.008.001.02"
	XSINamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	SchemaFile     = "pain.008.001.02.xsd"
	SchemaLocation = Namespace + " " + SchemaFile

	Currency           = "EUR"
	PaymentMethod      = "DD"
	ServiceLevel       = "SEPA"
	LocalInstrument    = "CORE"
	ChargeBearer       = "SLEV"
	SchemeName         = "SEPA"
	EndToEndIDNotGiven = "NOTPROVIDED"

	// creationLayout matches an ISO 8601 UTC timestamp with milliseconds.
	creationLayout = "2006-01-02T15:04:05.000Z"
)

// ErrNoTransactions is returned when a message would contain no transactions.
var ErrNoTransactions = errors.New("no transactions to build a message from")

// =============================================================================
// IDENTIFIERS
// =============================================================================

// IDFunc returns a new identifier starting with prefix. Identifiers must not
// exceed 35 characters.
type IDFunc func(prefix string) (string, error)

// NewID returns prefix followed by the 32 hex digits of a UUIDv7. Version 7
// values are time ordered and carry random bits, so two conversions started
// in the same millisecond still get different identifiers.
func NewID(prefix string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return prefix + strings.ReplaceAll(id.String(), "-", ""), nil
}

// =============================================================================
// BUILDER
// =============================================================================

// Builder creates messages. The zero value uses time.Now and NewID.
type Builder struct {
	Now   func() time.Time
	NewID IDFunc
}

// NewBuilder returns a Builder with the default clock and identifiers.
func NewBuilder() *Builder {
	return &Builder{Now: time.Now, NewID: NewID}
}

// Message is a built pain.008 message. It is not modified after Build.
type Message struct {
	MessageID      string
	PaymentInfoID  string
	CreatedAt      time.Time
	CollectionDate civil.Date
	Creditor       Profile
	Transactions   []types.Transaction
	ControlSum     decimal.Decimal
}

// Build assembles txs into a message for the given creditor.
//
// PROCESS:
//   1. Reject an empty batch and an incomplete creditor profile
//   2. Generate MsgId and PmtInfId
//   3. Sum the amounts into the control sum
//   4. Set the collection date to the day after creation (UTC)
func (b *Builder) Build(txs []types.Transaction, profile Profile) (*Message, error) {
	if len(txs) == 0 {
		return nil, ErrNoTransactions
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	newID := NewID
	if b.NewID != nil {
		newID = b.NewID
	}

	msgID, err := newID("MSG")
	if err != nil {
		return nil, err
	}
	pmtID, err := newID("PMT")
	if err != nil {
		return nil, err
	}

	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}

	created := now().UTC()

	return &Message{
		MessageID:      msgID,
		PaymentInfoID:  pmtID,
		CreatedAt:      created,
		CollectionDate: civil.DateOf(created).AddDays(1),
		Creditor:       profile,
		Transactions:   append([]types.Transaction(nil), txs...),
		ControlSum:     sum,
	}, nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// NbOfTxs is the number of transactions.
func (m *Message) NbOfTxs() int {
	return len(m.Transactions)
}

// CtrlSum is the control sum with exactly two decimals.
func (m *Message) CtrlSum() string {
	return m.ControlSum.StringFixed(2)
}

// CreationDateTime is CreDtTm as written to the message.
func (m *Message) CreationDateTime() string {
	return m.CreatedAt.UTC().Format(creationLayout)
}

// XML serializes the message with the default writer options.
func (m *Message) XML() ([]byte, error) {
	return xmlwriter.Marshal(m.Tree())
}

// =============================================================================
// TREE ASSEMBLY
// =============================================================================

// Tree returns the document tree for the message.
func (m *Message) Tree() *xmlwriter.Element {
	count := strconv.Itoa(m.NbOfTxs())
	sum := m.CtrlSum()
	cdtr := m.Creditor

	groupHeader := xmlwriter.New("GrpHdr").
		AddText("MsgId", m.MessageID).
		AddText("CreDtTm", m.CreationDateTime()).
		AddText("NbOfTxs", count).
		AddText("CtrlSum", sum).
		Add(xmlwriter.Wrap("InitgPty", xmlwriter.Text("Nm", cdtr.Name)))

	paymentInfo := xmlwriter.New("PmtInf").
		AddText("PmtInfId", m.PaymentInfoID).
		AddText("PmtMtd", PaymentMethod).
		AddText("NbOfTxs", count).
		AddText("CtrlSum", sum).
		Add(
			xmlwriter.New("PmtTpInf").Add(
				xmlwriter.Wrap("SvcLvl", xmlwriter.Text("Cd", ServiceLevel)),
				xmlwriter.Wrap("LclInstrm", xmlwriter.Text("Cd", LocalInstrument)),
				xmlwriter.Text("SeqTp", cdtr.SequenceType),
			),
			xmlwriter.Text("ReqdColltnDt", m.CollectionDate.String()),
			xmlwriter.Wrap("Cdtr", xmlwriter.Text("Nm", cdtr.Name)),
			xmlwriter.Wrap("CdtrAcct", "Id", xmlwriter.Text("IBAN", cdtr.IBAN)),
			xmlwriter.Wrap("CdtrAgt", "FinInstnId", xmlwriter.Text("BIC", cdtr.BIC)),
			xmlwriter.Text("ChrgBr", ChargeBearer),
			xmlwriter.Wrap("CdtrSchmeId", "Id", "PrvtId",
				xmlwriter.New("Othr").Add(
					xmlwriter.Text("Id", cdtr.SchemeID),
					xmlwriter.Wrap("SchmeNm", xmlwriter.Text("Prtry", SchemeName)),
				),
			),
		)

	for _, tx := range m.Transactions {
		paymentInfo.Add(transactionElement(tx))
	}

	return xmlwriter.New("Document").
		Attr("xmlns", Namespace).
		Attr("xmlns:xsi", XSINamespace).
		Attr("xsi:schemaLocation", SchemaLocation).
		Add(xmlwriter.New("CstmrDrctDbtInitn").Add(groupHeader, paymentInfo))
}

func transactionElement(tx types.Transaction) *xmlwriter.Element {
	mandate := xmlwriter.New("MndtRltdInf").
		AddText("MndtId", tx.MandateID).
		AddText("DtOfSgntr", tx.MandateDate.String())

	return xmlwriter.New("DrctDbtTxInf").Add(
		xmlwriter.Wrap("PmtId", xmlwriter.Text("EndToEndId", EndToEndIDNotGiven)),
		xmlwriter.Text("InstdAmt", tx.Amount.StringFixed(2)).Attr("Ccy", Currency),
		xmlwriter.Wrap("DrctDbtTx", mandate),
		xmlwriter.Wrap("DbtrAgt", "FinInstnId", xmlwriter.Text("BIC", tx.BIC)),
		xmlwriter.Wrap("Dbtr", xmlwriter.Text("Nm", tx.Name)),
		xmlwriter.Wrap("DbtrAcct", "Id", xmlwriter.Text("IBAN", tx.IBAN)),
		xmlwriter.Wrap("RmtInf", xmlwriter.Text("Ustrd", tx.Description)),
	)
}
