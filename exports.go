package feeledger

import "github.com/xraph/feeledger/types"

// Re-export common types so callers don't have to import the types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors.
var (
	INR      = types.INR
	NewMoney = types.New
	Zero     = types.Zero
)
