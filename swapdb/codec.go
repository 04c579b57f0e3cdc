package swapdb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/swapbridge/swapbridge/chain"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/hashlock"
	"github.com/swapbridge/swapbridge/swap"
)

// TLV types of a serialized order. Types are never reused.
const (
	orderIDType              tlv.Type = 0
	hashType                 tlv.Type = 2
	preimageType             tlv.Type = 3
	revealedPreimageType     tlv.Type = 5
	initiatorChainType       tlv.Type = 6
	initiatorAddressType     tlv.Type = 8
	initiatorAmountType      tlv.Type = 10
	initiatorAssetType       tlv.Type = 12
	initiatorLockType        tlv.Type = 14
	initiatorClaimType       tlv.Type = 16
	initiatorRefundType      tlv.Type = 18
	counterpartyChainType    tlv.Type = 20
	counterpartyAddressType  tlv.Type = 22
	counterpartyAmountType   tlv.Type = 24
	counterpartyAssetType    tlv.Type = 26
	counterpartyLockType     tlv.Type = 28
	counterpartyClaimType    tlv.Type = 30
	counterpartyRefundType   tlv.Type = 32
	initiatorTimelockType    tlv.Type = 34
	counterpartyTimelockType tlv.Type = 36
	statusType               tlv.Type = 38
	versionType              tlv.Type = 40
	failureReasonType        tlv.Type = 42
	createdAtType            tlv.Type = 44
	initiatorPendingType     tlv.Type = 46
	counterpartyPendingType  tlv.Type = 48
)

// TLV types of a serialized journal entry.
const (
	updateTimeType  tlv.Type = 0
	updateStateType tlv.Type = 2
	updateEventType tlv.Type = 4
)

const (
	// maxTimestampNanos is the largest encodable timestamp.
	maxTimestampNanos = 1<<63 - 1
)

// partyRecord is the raw form of a leg.
type partyRecord struct {
	chain   []byte
	address []byte
	amount  uint64
	asset   []byte
	lock    []byte
	claim   []byte
	refund  []byte
	pending uint8
}

func newPartyRecord(p *swap.Party) partyRecord {
	return partyRecord{
		chain:   []byte(p.Chain),
		address: []byte(p.Address),
		amount:  p.Amount,
		asset:   []byte(p.Asset),
		lock:    []byte(p.LockTxRef),
		claim:   []byte(p.ClaimTxRef),
		refund:  []byte(p.RefundTxRef),
		pending: uint8(p.Pending),
	}
}

func (p *partyRecord) party() swap.Party {
	return swap.Party{
		Chain:       chain.ID(p.chain),
		Address:     string(p.address),
		Amount:      p.amount,
		Asset:       string(p.asset),
		LockTxRef:   chain.TxRef(p.lock),
		ClaimTxRef:  chain.TxRef(p.claim),
		RefundTxRef: chain.TxRef(p.refund),
		Pending:     swap.PendingTx(p.pending),
	}
}

// orderRecord is the raw form of an order.
type orderRecord struct {
	id                   []byte
	hash                 [32]byte
	preimage             [32]byte
	revealedPreimage     [32]byte
	initiator            partyRecord
	counterparty         partyRecord
	initiatorTimelock    uint64
	counterpartyTimelock uint64
	status               []byte
	version              uint32
	failureReason        []byte
	createdAt            uint64

	hasPreimage         bool
	hasRevealedPreimage bool
}

// records returns the tlv records of the order in ascending type order.
// Optional records are only included if they are set, unless all is true.
func (r *orderRecord) records(all bool) []tlv.Record {
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(orderIDType, &r.id),
		tlv.MakePrimitiveRecord(hashType, &r.hash),
	}

	if all || r.hasPreimage {
		records = append(records, tlv.MakePrimitiveRecord(
			preimageType, &r.preimage,
		))
	}

	if all || r.hasRevealedPreimage {
		records = append(records, tlv.MakePrimitiveRecord(
			revealedPreimageType, &r.revealedPreimage,
		))
	}

	return append(records,
		tlv.MakePrimitiveRecord(initiatorChainType, &r.initiator.chain),
		tlv.MakePrimitiveRecord(
			initiatorAddressType, &r.initiator.address,
		),
		tlv.MakePrimitiveRecord(
			initiatorAmountType, &r.initiator.amount,
		),
		tlv.MakePrimitiveRecord(initiatorAssetType, &r.initiator.asset),
		tlv.MakePrimitiveRecord(initiatorLockType, &r.initiator.lock),
		tlv.MakePrimitiveRecord(initiatorClaimType, &r.initiator.claim),
		tlv.MakePrimitiveRecord(
			initiatorRefundType, &r.initiator.refund,
		),
		tlv.MakePrimitiveRecord(
			counterpartyChainType, &r.counterparty.chain,
		),
		tlv.MakePrimitiveRecord(
			counterpartyAddressType, &r.counterparty.address,
		),
		tlv.MakePrimitiveRecord(
			counterpartyAmountType, &r.counterparty.amount,
		),
		tlv.MakePrimitiveRecord(
			counterpartyAssetType, &r.counterparty.asset,
		),
		tlv.MakePrimitiveRecord(
			counterpartyLockType, &r.counterparty.lock,
		),
		tlv.MakePrimitiveRecord(
			counterpartyClaimType, &r.counterparty.claim,
		),
		tlv.MakePrimitiveRecord(
			counterpartyRefundType, &r.counterparty.refund,
		),
		tlv.MakePrimitiveRecord(
			initiatorTimelockType, &r.initiatorTimelock,
		),
		tlv.MakePrimitiveRecord(
			counterpartyTimelockType, &r.counterpartyTimelock,
		),
		tlv.MakePrimitiveRecord(statusType, &r.status),
		tlv.MakePrimitiveRecord(versionType, &r.version),
		tlv.MakePrimitiveRecord(failureReasonType, &r.failureReason),
		tlv.MakePrimitiveRecord(createdAtType, &r.createdAt),
		tlv.MakePrimitiveRecord(
			initiatorPendingType, &r.initiator.pending,
		),
		tlv.MakePrimitiveRecord(
			counterpartyPendingType, &r.counterparty.pending,
		),
	)
}

// encodeTime encodes a time as unix nanoseconds.
func encodeTime(t time.Time) (uint64, error) {
	nanos := t.UnixNano()
	if nanos < 0 {
		return 0, fmt.Errorf("time %v before unix epoch", t)
	}

	return uint64(nanos), nil
}

// decodeTime decodes unix nanoseconds.
func decodeTime(nanos uint64) (time.Time, error) {
	if nanos > maxTimestampNanos {
		return time.Time{}, fmt.Errorf("invalid timestamp %v", nanos)
	}

	return time.Unix(0, int64(nanos)).UTC(), nil
}

// serializeOrder encodes an order as a tlv stream.
func serializeOrder(order *swap.Order) ([]byte, error) {
	id, err := order.ID.MarshalBinary()
	if err != nil {
		return nil, err
	}

	r := &orderRecord{
		id:            id,
		hash:          order.Hash(),
		initiator:     newPartyRecord(&order.Initiator),
		counterparty:  newPartyRecord(&order.Counterparty),
		status:        []byte(order.Status),
		version:       order.Version,
		failureReason: []byte(order.FailureReason),
	}

	if order.Committer != nil {
		r.preimage = order.Committer.Preimage()
		r.hasPreimage = true
	}

	if order.RevealedPreimage != nil {
		r.revealedPreimage = *order.RevealedPreimage
		r.hasRevealedPreimage = true
	}

	r.initiatorTimelock, err = encodeTime(order.InitiatorTimelock)
	if err != nil {
		return nil, err
	}

	r.counterpartyTimelock, err = encodeTime(order.CounterpartyTimelock)
	if err != nil {
		return nil, err
	}

	r.createdAt, err = encodeTime(order.CreatedAt)
	if err != nil {
		return nil, err
	}

	stream, err := tlv.NewStream(r.records(false)...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeOrder decodes an order from a tlv stream.
func deserializeOrder(value []byte) (*swap.Order, error) {
	r := &orderRecord{}

	stream, err := tlv.NewStream(r.records(true)...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(value))
	if err != nil {
		return nil, err
	}

	var id uuid.UUID
	if err := id.UnmarshalBinary(r.id); err != nil {
		return nil, err
	}

	verifier, err := hashlock.FromHash(r.hash)
	if err != nil {
		return nil, err
	}

	order := &swap.Order{
		ID:            id,
		Initiator:     r.initiator.party(),
		Counterparty:  r.counterparty.party(),
		HashLock:      verifier,
		Status:        fsm.StateType(r.status),
		Version:       r.version,
		FailureReason: string(r.failureReason),
	}

	if _, ok := parsed[preimageType]; ok {
		order.Committer, err = committerFromBytes(
			r.preimage[:], verifier.Hash(),
		)
		if err != nil {
			return nil, err
		}
	}

	if _, ok := parsed[revealedPreimageType]; ok {
		revealed := lntypes.Preimage(r.revealedPreimage)
		order.RevealedPreimage = &revealed
	}

	order.InitiatorTimelock, err = decodeTime(r.initiatorTimelock)
	if err != nil {
		return nil, err
	}

	order.CounterpartyTimelock, err = decodeTime(r.counterpartyTimelock)
	if err != nil {
		return nil, err
	}

	order.CreatedAt, err = decodeTime(r.createdAt)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// serializeUpdate encodes a journal entry as a tlv stream.
func serializeUpdate(update *swap.Update) ([]byte, error) {
	updateTime, err := encodeTime(update.Time)
	if err != nil {
		return nil, err
	}

	state := []byte(update.State)
	event := []byte(update.Event)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(updateTimeType, &updateTime),
		tlv.MakePrimitiveRecord(updateStateType, &state),
		tlv.MakePrimitiveRecord(updateEventType, &event),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeUpdate decodes a journal entry from a tlv stream.
func deserializeUpdate(value []byte) (*swap.Update, error) {
	var (
		updateTime   uint64
		state, event []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(updateTimeType, &updateTime),
		tlv.MakePrimitiveRecord(updateStateType, &state),
		tlv.MakePrimitiveRecord(updateEventType, &event),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(value)); err != nil {
		return nil, err
	}

	t, err := decodeTime(updateTime)
	if err != nil {
		return nil, err
	}

	return &swap.Update{
		Time:  t,
		State: fsm.StateType(state),
		Event: fsm.EventType(event),
	}, nil
}
