package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/commitchain/bimodal"
	"github.com/colorfulnotion/commitchain/chain"
	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	log "github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/operator"
	"github.com/colorfulnotion/commitchain/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"golang.org/x/exp/slices"
)

type simConfig struct {
	Users        int
	Eons         uint64
	BlocksPerEon uint64
	Seed         uint64
	OfflineEon   uint64 // eon whose commitment the hub misses; 0 for none
}

// EonReport is the activity and balances of one eon.
type EonReport struct {
	Eon         uint64      `json:"eon"`
	Status      string      `json:"status"`
	Root        common.Hash `json:"root"`
	Committed   string      `json:"committed"`
	Custody     string      `json:"custody"`
	Accounts    int         `json:"accounts"`
	Deposits    int         `json:"deposits"`
	Transfers   int         `json:"transfers"`
	Withdrawals int         `json:"withdrawals"`
	Confirmed   int         `json:"confirmed"`
	Challenges  int         `json:"challenges"`
	Rejected    int         `json:"rejected"`
}

type Report struct {
	Params    types.Params        `json:"params"`
	Seed      uint64              `json:"seed"`
	Eons      []*EonReport        `json:"eons"`
	Accounts  []chain.AccountView `json:"accounts"`
	Custody   string              `json:"custody"`
	Events    int                 `json:"events"`
	FaultEon  uint64              `json:"fault_eon,omitempty"`
	Recovered string              `json:"recovered,omitempty"`
}

type simUser struct {
	addr common.Address
	key  *ecdsa.PrivateKey
}

type simulation struct {
	cfg       simConfig
	params    types.Params
	rng       *rand.Rand
	chain     *chain.Chain
	hub       *operator.Operator
	users     []simUser
	pending   map[uint64]bool
	eons      []*EonReport
	recovered bool
}

func newSimulation(cfg simConfig) (*simulation, error) {
	if cfg.Users < 2 || cfg.Users > 9 {
		return nil, fmt.Errorf("users must be between 2 and 9")
	}
	hubAddr, _ := common.GetEVMDevAccount(0)
	p := types.DefaultParams(cfg.BlocksPerEon, hubAddr)
	p.Network = "simulation"
	p.GenesisBlock = cfg.BlocksPerEon
	c, err := chain.New(p, chain.WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		return nil, err
	}
	s := &simulation{
		cfg:     cfg,
		params:  p,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		chain:   c,
		hub:     operator.New(c, nil),
		pending: make(map[uint64]bool),
	}
	for i := 1; i <= cfg.Users; i++ {
		addr, hexKey := common.GetEVMDevAccount(i)
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, err
		}
		s.users = append(s.users, simUser{addr: addr, key: key})
	}
	s.eons = []*EonReport{{Eon: 0}}
	for e := uint64(1); e <= cfg.Eons; e++ {
		s.eons = append(s.eons, &EonReport{Eon: e})
	}
	return s, nil
}

func (s *simulation) tx(u simUser, block uint64) types.TxContext {
	return types.TxContext{From: u.addr, Block: block}
}

// note counts a call into eon's report.
func (s *simulation) note(counter *int, eon uint64, err error) {
	if err != nil {
		s.eons[eon].Rejected++
		log.Debug(log.ChainMonitoring, "simulated call rejected", "eon", eon, "err", err)
		return
	}
	*counter++
}

func (s *simulation) run() (*Report, error) {
	end := s.params.EonStart(s.cfg.Eons + 1)
	for b := uint64(1); b < end; b++ {
		e := s.params.EonAt(b)
		offline := s.cfg.OfflineEon != 0 && e == s.cfg.OfflineEon && b < s.params.SubmissionDeadline(e)
		if !offline {
			if err := s.hub.Step(b); err != nil {
				return nil, err
			}
		}
		_, faulted := s.chain.Faulted()
		switch {
		case faulted && !s.recovered:
			s.recover(e, b)
		case faulted:
		case b == 1:
			for _, u := range s.users {
				_, err := s.chain.Deposit(s.tx(u, b), uint256.NewInt(50+s.rng.Uint64n(100)))
				s.note(&s.eons[0].Deposits, 0, err)
			}
		case e >= 1 && b == s.params.EonStart(e):
			if leaves, ok := s.hub.Sealed(e); ok {
				s.eons[e].Accounts = len(leaves)
				s.eons[e].Committed = sumTotals(leaves).Dec()
			}
		case e >= 1 && b == s.params.EonStart(e)+1:
			s.act(e, b)
		}
		if b+1 == s.params.EonStart(e+1) {
			s.eons[e].Custody = s.chain.Custody().Dec()
		}
	}
	return s.report(), nil
}

func sumTotals(leaves []types.Leaf) *uint256.Int {
	sum := new(uint256.Int)
	for i := range leaves {
		if total, ok := leaves[i].Total(); ok {
			sum.Add(sum, total)
		}
	}
	return sum
}

func (s *simulation) pick(not int) int {
	i := s.rng.Intn(len(s.users) - 1)
	if i >= not {
		i++
	}
	return i
}

// act plays one round of user traffic at the start of eon e.
func (s *simulation) act(e, b uint64) {
	rep := s.eons[e]
	for i, u := range s.users {
		if s.rng.Intn(2) == 0 {
			if err := s.transfer(u, s.users[s.pick(i)].addr); err != errNothing {
				s.note(&rep.Transfers, e, err)
			}
		}
		if s.rng.Intn(3) == 0 {
			_, err := s.chain.Deposit(s.tx(u, b), uint256.NewInt(1+s.rng.Uint64n(100)))
			s.note(&rep.Deposits, e, err)
		}
		if s.rng.Intn(4) == 0 {
			if err := s.withdraw(u, b); err != errNothing {
				s.note(&rep.Withdrawals, e, err)
			}
		}
		if s.rng.Intn(5) == 0 && s.chain.LastFinalized() == e-1 {
			proof, err := s.hub.Proof(e-1, u.addr)
			if err == nil {
				_, err = s.chain.OpenChallenge(s.tx(u, b), e, proof)
			}
			s.note(&rep.Challenges, e, err)
		}
	}
	ids := make([]uint64, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		r, err := s.chain.Withdrawal(id)
		if err != nil || r.DeadlineEon > e {
			continue
		}
		_, err = s.chain.ConfirmWithdrawal(types.TxContext{From: r.Account, Block: b}, id)
		if err == nil || chainerrors.KindOf(err) != chainerrors.HubFault {
			delete(s.pending, id)
		}
		s.note(&rep.Confirmed, e, err)
	}
}

var errNothing = fmt.Errorf("nothing to move")

// transfer pays up to half of u's working balance to to.
func (s *simulation) transfer(u simUser, to common.Address) error {
	leaf, debit := s.hub.Leaf(u.addr)
	total, ok := leaf.Total()
	if !ok || total.Uint64() < 2 {
		return errNothing
	}
	amount := 1 + s.rng.Uint64n(total.Uint64()/2)
	debit.Add(debit, uint256.NewInt(amount))
	a, err := bimodal.SignAgreement(u.key, s.hub.WorkingEon(), u.addr, leaf.Seq+1, debit)
	if err != nil {
		return err
	}
	_, err = s.hub.Transfer(a, to)
	return err
}

// withdraw requests at most half of what the hub can still debit from u.
func (s *simulation) withdraw(u simUser, b uint64) error {
	leaf, _ := s.hub.Leaf(u.addr)
	total, ok := leaf.Total()
	if !ok {
		return errNothing
	}
	limit := total.Uint64()
	if a := leaf.Active.Uint64(); a < limit {
		limit = a
	}
	if limit < 2 {
		return errNothing
	}
	proof, err := s.hub.Proof(s.chain.LastFinalized(), u.addr)
	if err != nil {
		return err
	}
	r, err := s.chain.RequestWithdrawal(s.tx(u, b), uint256.NewInt(limit/2), &proof)
	if err != nil {
		return err
	}
	s.pending[r.ID] = true
	return nil
}

// recover claims every user's funds once the chain halts.
func (s *simulation) recover(e, b uint64) {
	f := s.chain.LastFinalized()
	for _, u := range s.users {
		var proof *bimodal.BalanceProof
		if p, err := s.hub.Proof(f, u.addr); err == nil {
			proof = &p
		}
		_, err := s.chain.ClaimRecovery(s.tx(u, b), u.addr, proof)
		if err != nil {
			s.eons[e].Rejected++
			log.Warn(log.RecoveryMonitoring, "recovery claim failed", "account", u.addr, "err", err)
		}
	}
	s.recovered = true
}

func (s *simulation) report() *Report {
	r := &Report{
		Params:  s.params,
		Seed:    s.cfg.Seed,
		Eons:    s.eons,
		Custody: s.chain.Custody().Dec(),
		Events:  len(s.chain.Events(0)),
	}
	for _, rep := range s.eons {
		if st, err := s.chain.Eon(rep.Eon); err == nil {
			rep.Status = st.Status.String()
			rep.Root = st.Root
		}
	}
	paid := new(uint256.Int)
	for _, u := range s.users {
		r.Accounts = append(r.Accounts, s.chain.Account(u.addr))
		if rec, ok := s.chain.Recovery(u.addr); ok {
			paid.Add(paid, &rec.Payout)
		}
	}
	if e, faulted := s.chain.Faulted(); faulted {
		r.FaultEon = e
		r.Recovered = paid.Dec()
	}
	return r
}

func toFloat(dec string) float64 {
	v, err := types.ParseAmount(dec)
	if err != nil {
		return 0
	}
	return v.Float64()
}

// renderChart draws custody against committed balances, and the activity
// of each eon.
func renderChart(w io.Writer, r *Report) error {
	var xs []string
	var custody, committed []opts.LineData
	var transfers, deposits, withdrawals []opts.BarData
	for _, e := range r.Eons {
		xs = append(xs, fmt.Sprintf("eon %d", e.Eon))
		custody = append(custody, opts.LineData{Value: toFloat(e.Custody)})
		committed = append(committed, opts.LineData{Value: toFloat(e.Committed)})
		transfers = append(transfers, opts.BarData{Value: e.Transfers})
		deposits = append(deposits, opts.BarData{Value: e.Deposits})
		withdrawals = append(withdrawals, opts.BarData{Value: e.Withdrawals})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Custody and committed balances", Subtitle: fmt.Sprintf("seed %d", r.Seed)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs).
		AddSeries("custody", custody).
		AddSeries("committed", committed)

	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Activity per eon"}))
	bar.SetXAxis(xs).
		AddSeries("transfers", transfers).
		AddSeries("deposits", deposits).
		AddSeries("withdrawals", withdrawals)

	page := components.NewPage()
	page.AddCharts(line, bar)
	return page.Render(w)
}

func newSimulateCmd() *cobra.Command {
	var cfg simConfig
	var chartPath, dumpPath string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run users and a hub against an in-memory commit-chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := newSimulation(cfg)
			if err != nil {
				return err
			}
			r, err := sim.run()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range r.Eons {
				fmt.Fprintf(out, "eon %-3d %-10s accounts=%d committed=%s custody=%s transfers=%d deposits=%d withdrawals=%d challenges=%d rejected=%d\n",
					e.Eon, e.Status, e.Accounts, e.Committed, e.Custody, e.Transfers, e.Deposits, e.Withdrawals, e.Challenges, e.Rejected)
			}
			if r.FaultEon != 0 {
				fmt.Fprintf(out, "%sfaulted at eon %d%s, recovered %s of %s\n", common.ColorYellow, r.FaultEon, common.ColorReset, r.Recovered, r.Custody)
			}
			if dumpPath != "" {
				data, err := json.MarshalIndent(r, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(dumpPath, data, 0o644); err != nil {
					return err
				}
			}
			if chartPath != "" {
				f, err := os.Create(chartPath)
				if err != nil {
					return err
				}
				defer f.Close()
				return renderChart(f, r)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&cfg.Users, "users", 4, "Number of users (2-9)")
	cmd.Flags().Uint64Var(&cfg.Eons, "eons", 8, "Eons to run")
	cmd.Flags().Uint64Var(&cfg.BlocksPerEon, "blocks-per-eon", 20, "Eon length in blocks")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 1, "Random seed")
	cmd.Flags().Uint64Var(&cfg.OfflineEon, "offline-eon", 0, "Eon whose commitment the hub misses")
	cmd.Flags().StringVar(&chartPath, "chart", "", "Write an HTML chart to this file")
	cmd.Flags().StringVar(&dumpPath, "dump", "", "Write the final state as JSON to this file")
	return cmd
}
