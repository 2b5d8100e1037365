// Implements a static analysis tool that checks for:
// 1. Writes to package-level variables from functions outside of main packages,
// which is how request state such as the current user leaks between clients
// 2. Usage of built-in panic() function anywhere in the code
// 3. Usage of log.Fatal()/log.Fatalf()/log.Fatalln() or os.Exit() outside of main function in main package
package main

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/analysis/singlechecker"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer reports shared mutable package state and improper process termination.
var Analyzer = &analysis.Analyzer{
	Name: "globalstate",
	Doc:  "reports writes to package-level variables outside of main packages, usage of panic and log.Fatal/os.Exit outside of main function",
	Run:  run,
	Requires: []*analysis.Analyzer{
		inspect.Analyzer,
	},
}

func main() {
	singlechecker.Main(Analyzer)
}

func run(pass *analysis.Pass) (interface{}, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{
		(*ast.FuncDecl)(nil),
		(*ast.CallExpr)(nil),
		(*ast.AssignStmt)(nil),
		(*ast.IncDecStmt)(nil),
	}

	isMainPkg := pass.Pkg.Name() == "main"
	var (
		inMain bool
		inInit bool
	)

	inspect.Preorder(nodeFilter, func(n ast.Node) {
		switch node := n.(type) {
		case *ast.FuncDecl:
			inMain = isMainPkg && node.Recv == nil && node.Name.Name == "main"
			inInit = node.Recv == nil && node.Name.Name == "init"
		case *ast.AssignStmt:
			if isMainPkg || inInit || node.Tok == token.DEFINE {
				return
			}
			for _, lhs := range node.Lhs {
				reportGlobalWrite(pass, lhs)
			}
		case *ast.IncDecStmt:
			if isMainPkg || inInit {
				return
			}
			reportGlobalWrite(pass, node.X)
		case *ast.CallExpr:
			if ident, ok := node.Fun.(*ast.Ident); ok && ident.Name == "panic" {
				if _, builtin := pass.TypesInfo.Uses[ident].(*types.Builtin); builtin {
					pass.Reportf(ident.Pos(), "found usage of panic")
				}
			}

			if inMain {
				return
			}
			if sel, ok := node.Fun.(*ast.SelectorExpr); ok {
				if ident, ok := sel.X.(*ast.Ident); ok {
					switch ident.Name + "." + sel.Sel.Name {
					case "log.Fatal", "log.Fatalf", "log.Fatalln", "os.Exit":
						pass.Reportf(node.Pos(), "found usage of %s outside of main function", ident.Name+"."+sel.Sel.Name)
					}
				}
			}
		}
	})

	return nil, nil
}

// reportGlobalWrite reports expr when it writes to a package-level variable,
// directly or through a field, index or dereference.
func reportGlobalWrite(pass *analysis.Pass, expr ast.Expr) {
	for {
		switch e := expr.(type) {
		case *ast.ParenExpr:
			expr = e.X
			continue
		case *ast.StarExpr:
			expr = e.X
			continue
		case *ast.IndexExpr:
			expr = e.X
			continue
		case *ast.SelectorExpr:
			if pkgIdent, ok := e.X.(*ast.Ident); ok {
				if _, isPkg := pass.TypesInfo.Uses[pkgIdent].(*types.PkgName); isPkg {
					expr = e.Sel
					continue
				}
			}
			expr = e.X
			continue
		case *ast.Ident:
			v, ok := pass.TypesInfo.Uses[e].(*types.Var)
			if !ok || v.Pkg() == nil || v.Parent() != v.Pkg().Scope() {
				return
			}
			pass.Reportf(e.Pos(), "assignment to package-level variable %s", e.Name)
		}
		return
	}
}
