package service

import "context"

type testTxRepos struct {
	codebases CodebaseRepositoryInterface
	indexJobs IndexJobRepositoryInterface
}

func (t *testTxRepos) Codebases() CodebaseRepositoryInterface {
	return t.codebases
}

func (t *testTxRepos) IndexJobs() IndexJobRepositoryInterface {
	return t.indexJobs
}

type testTxRunner struct {
	repos  TxRepositories
	called bool
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called = true
	return fn(t.repos)
}
