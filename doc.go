// Package feeledger provides the fee ledger and payment reconciliation engine
// of a student information system.
//
// Feeledger is designed as a library, not a service. Import it into the
// application that owns enrollment and presentation. It provides:
//
//   - Frozen per-student fee structures compiled from editable fee catalogs
//   - Installment schedules whose amounts always sum to the fee exactly
//   - An append-only ledger that is the single source of monetary truth
//   - Exactly-once reconciliation of gateway callbacks and sweep re-queries
//   - Offline (cash, cheque, transfer) payments with receipt-level dedup
//   - Block evaluation and a periodically refreshed defaulter report
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/feeledger"
//	    "github.com/xraph/feeledger/store/postgres"
//	)
//
//	// db is a *grove.DB opened with the PostgreSQL driver.
//	store := postgres.New(db)
//
//	gw, err := midtrans.New(midtrans.Config{ServerKey: serverKey})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := feeledger.New(store, feeledger.WithGateway(gw))
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// A Catalog holds the fee heads, installment plan and policy of a program
// (optionally a batch) in one academic year. Enrolling a student freezes it:
//
//	enrolled, err := engine.Enroll(ctx, registrar, structure.Enrollment{
//	    StudentID:    "stu_42",
//	    ProgramID:    "bsc-cs",
//	    AcademicYear: "2025-26",
//	}, slabID)
//
// Every monetary event is a ledger entry. CHARGE and FINE are positive;
// CONCESSION, PAYMENT and CREDIT are negative. Totals are a fold:
//
//	total_fee = base - concession + fine
//	paid      = -(PAYMENT + CREDIT)
//	balance   = total_fee - paid
//
// Payments are allocated oldest-due-first. Installment status (pending,
// partially_paid, paid, overdue) is derived from the fold and never stored.
//
// # Idempotency
//
// Every externally triggered entry carries an idempotency key. A gateway
// payment is keyed by its transaction ID, an offline payment by its receipt
// reference. A repeated event is reported as a DuplicateEvent on the result;
// it is never an error and never posts money twice.
//
// # Authorization
//
// Each operation takes the acting Actor and checks a Capability through the
// configured Authorizer before doing anything. Gateway callbacks and the
// background workers act as SystemActor.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	sfee_01h2xcejqtf2nbrexx3vqjhp41  // student fee (structure) ID
//	lent_01h2xcejqtf2nbrexx3vqjhp41  // ledger entry ID
//	patt_01h455vb4pex5vsknk084sn02q  // payment attempt ID
package feeledger
