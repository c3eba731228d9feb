package state

var (
	vestingPoolKey          = []byte("vesting/pool")
	vestingAccountPrefix    = []byte("vesting/account/")
	vestingAccountIndexKey  = []byte("vesting/accounts")
	vestingPendingPrefix    = []byte("vesting/pending/")
	vestingRolePrefix       = []byte("vesting/role/")
	timelockOperationPrefix = []byte("timelock/op/")
	bankBalancePrefix       = []byte("bank/balance/")
	genesisMarkerKey        = []byte("genesis/applied")
)
